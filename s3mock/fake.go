package s3mock

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// OwnerID is the canonical user owning every fake bucket and object.
const OwnerID = "fake-owner-canonical-id"

const allUsersURI = "http://acs.amazonaws.com/groups/global/AllUsers"

// Object is one stored object.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]*string
	Grants      []*s3.Grant
}

// FakeS3 is an in-memory S3 implementing the subset of s3iface.S3API used
// by this module. Calling any other method panics.
type FakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	buckets map[string]map[string]*Object

	// Errors maps an operation name (e.g. "GetObjectAcl") to an error the
	// next calls of that operation return.
	Errors map[string]error
	// OmitGranteeType drops the Type field from returned grants, like some
	// S3-compatible services do.
	OmitGranteeType bool

	Calls map[string]int
}

// New returns a fake with the given buckets already created.
func New(buckets ...string) *FakeS3 {
	f := &FakeS3{
		buckets: make(map[string]map[string]*Object),
		Errors:  make(map[string]error),
		Calls:   make(map[string]int),
	}
	for _, b := range buckets {
		f.buckets[b] = make(map[string]*Object)
	}
	return f
}

// Uploader returns an s3manager uploader writing into f.
func (f *FakeS3) Uploader() *FakeUploader {
	return &FakeUploader{s3: f}
}

// Object returns a copy of a stored object, or nil.
func (f *FakeS3) Object(bucket, key string) *Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[bucket][key]
	if !ok {
		return nil
	}
	c := *obj
	c.Grants = copyGrants(obj.Grants)
	return &c
}

// Keys returns the sorted keys of bucket.
func (f *FakeS3) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.buckets[bucket]))
	for k := range f.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutRaw stores an object directly, bypassing call accounting.
func (f *FakeS3) PutRaw(bucket, key string, data []byte, grants ...*s3.Grant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = make(map[string]*Object)
	}
	f.buckets[bucket][key] = &Object{Data: data, Grants: append(ownerGrant(), grants...)}
}

// CallCount returns how often op was invoked.
func (f *FakeS3) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *FakeS3) enter(op string) error {
	f.mu.Lock()
	f.Calls[op]++
	return f.Errors[op]
}

func (f *FakeS3) bucket(name string) (map[string]*Object, error) {
	b, ok := f.buckets[name]
	if !ok {
		return nil, awserr.NewRequestFailure(awserr.New(s3.ErrCodeNoSuchBucket, "The specified bucket does not exist", nil), http.StatusNotFound, "fake")
	}
	return b, nil
}

func noSuchKey() error {
	return awserr.NewRequestFailure(awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil), http.StatusNotFound, "fake")
}

func (f *FakeS3) HeadBucketWithContext(_ aws.Context, in *s3.HeadBucketInput, _ ...request.Option) (*s3.HeadBucketOutput, error) {
	if err := f.enter("HeadBucket"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	if _, ok := f.buckets[aws.StringValue(in.Bucket)]; !ok {
		return nil, awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "fake")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *FakeS3) CreateBucketWithContext(_ aws.Context, in *s3.CreateBucketInput, _ ...request.Option) (*s3.CreateBucketOutput, error) {
	if err := f.enter("CreateBucket"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	name := aws.StringValue(in.Bucket)
	if _, ok := f.buckets[name]; ok {
		return nil, awserr.New(s3.ErrCodeBucketAlreadyOwnedByYou, "exists", nil)
	}
	f.buckets[name] = make(map[string]*Object)
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

func (f *FakeS3) WaitUntilBucketExistsWithContext(_ aws.Context, in *s3.HeadBucketInput, _ ...request.WaiterOption) error {
	if err := f.enter("WaitUntilBucketExists"); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	_, err := f.bucket(aws.StringValue(in.Bucket))
	return err
}

func (f *FakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	if err := f.enter("HeadObject"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	b, err := f.bucket(aws.StringValue(in.Bucket))
	if err != nil {
		return nil, err
	}
	obj, ok := b[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "fake")
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.Data))),
		Metadata:      obj.Metadata,
	}, nil
}

func (f *FakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	if err := f.enter("GetObject"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	b, err := f.bucket(aws.StringValue(in.Bucket))
	if err != nil {
		return nil, err
	}
	obj, ok := b[aws.StringValue(in.Key)]
	if !ok {
		return nil, noSuchKey()
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.Data)),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		Metadata:      obj.Metadata,
	}, nil
}

func (f *FakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	if err := f.enter("DeleteObject"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	b, err := f.bucket(aws.StringValue(in.Bucket))
	if err != nil {
		return nil, err
	}
	delete(b, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *FakeS3) DeleteObjectsWithContext(_ aws.Context, in *s3.DeleteObjectsInput, _ ...request.Option) (*s3.DeleteObjectsOutput, error) {
	if err := f.enter("DeleteObjects"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	b, err := f.bucket(aws.StringValue(in.Bucket))
	if err != nil {
		return nil, err
	}
	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		delete(b, aws.StringValue(id.Key))
		out.Deleted = append(out.Deleted, &s3.DeletedObject{Key: id.Key})
	}
	return out, nil
}

func (f *FakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	if err := f.enter("ListObjectsV2"); err != nil {
		f.mu.Unlock()
		return err
	}
	b, err := f.bucket(aws.StringValue(in.Bucket))
	if err != nil {
		f.mu.Unlock()
		return err
	}
	prefix := aws.StringValue(in.Prefix)
	var keys []string
	for k := range b {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	pageSize := int(aws.Int64Value(in.MaxKeys))
	if pageSize <= 0 {
		pageSize = 1000
	}
	for start := 0; start < len(keys) || start == 0; start += pageSize {
		end := min(start+pageSize, len(keys))
		page := &s3.ListObjectsV2Output{KeyCount: aws.Int64(int64(end - start))}
		for _, k := range keys[start:end] {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
		}
		last := end >= len(keys)
		if !fn(page, last) || last {
			break
		}
	}
	return nil
}

func (f *FakeS3) GetObjectAclWithContext(_ aws.Context, in *s3.GetObjectAclInput, _ ...request.Option) (*s3.GetObjectAclOutput, error) {
	if err := f.enter("GetObjectAcl"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	b, err := f.bucket(aws.StringValue(in.Bucket))
	if err != nil {
		return nil, err
	}
	obj, ok := b[aws.StringValue(in.Key)]
	if !ok {
		return nil, noSuchKey()
	}
	grants := copyGrants(obj.Grants)
	if f.OmitGranteeType {
		for _, g := range grants {
			g.Grantee.Type = nil
		}
	}
	return &s3.GetObjectAclOutput{
		Owner:  &s3.Owner{ID: aws.String(OwnerID), DisplayName: aws.String("owner")},
		Grants: grants,
	}, nil
}

func (f *FakeS3) PutObjectAclWithContext(_ aws.Context, in *s3.PutObjectAclInput, _ ...request.Option) (*s3.PutObjectAclOutput, error) {
	if err := f.enter("PutObjectAcl"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	b, err := f.bucket(aws.StringValue(in.Bucket))
	if err != nil {
		return nil, err
	}
	obj, ok := b[aws.StringValue(in.Key)]
	if !ok {
		return nil, noSuchKey()
	}
	if in.AccessControlPolicy == nil || in.AccessControlPolicy.Owner == nil || aws.StringValue(in.AccessControlPolicy.Owner.ID) != OwnerID {
		return nil, awserr.NewRequestFailure(awserr.New("MalformedACLError", "owner missing or wrong", nil), http.StatusBadRequest, "fake")
	}
	obj.Grants = copyGrants(in.AccessControlPolicy.Grants)
	return &s3.PutObjectAclOutput{}, nil
}

// FakeUploader implements s3manageriface.UploaderAPI on top of a FakeS3.
type FakeUploader struct {
	s3 *FakeS3
}

func (u *FakeUploader) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return u.UploadWithContext(aws.BackgroundContext(), in, opts...)
}

func (u *FakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f := u.s3
	if err := f.enter("Upload"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	b, err := f.bucket(aws.StringValue(in.Bucket))
	if err != nil {
		return nil, err
	}

	// Explicit grant headers make up the whole ACL, like on S3: the owner
	// only keeps FULL_CONTROL when a header names it.
	var grants []*s3.Grant
	explicit := false
	for _, h := range []struct {
		permission string
		header     *string
	}{
		{s3.PermissionFullControl, in.GrantFullControl},
		{s3.PermissionRead, in.GrantRead},
	} {
		if h.header == nil {
			continue
		}
		explicit = true
		if g := parseGrantHeader(aws.StringValue(h.header)); g != nil {
			grants = append(grants, &s3.Grant{Grantee: g, Permission: aws.String(h.permission)})
		}
	}
	if !explicit {
		grants = ownerGrant()
		if aws.StringValue(in.ACL) == s3.ObjectCannedACLPublicRead {
			grants = append(grants, &s3.Grant{
				Grantee:    &s3.Grantee{Type: aws.String(s3.TypeGroup), URI: aws.String(allUsersURI)},
				Permission: aws.String(s3.PermissionRead),
			})
		}
	}

	key := aws.StringValue(in.Key)
	b[key] = &Object{
		Data:        data,
		ContentType: aws.StringValue(in.ContentType),
		Metadata:    in.Metadata,
		Grants:      grants,
	}
	return &s3manager.UploadOutput{Location: "https://" + aws.StringValue(in.Bucket) + ".s3.amazonaws.com/" + key}, nil
}

func parseGrantHeader(h string) *s3.Grantee {
	k, v, ok := strings.Cut(h, "=")
	if !ok {
		return nil
	}
	v = strings.Trim(v, `"`)
	switch k {
	case "id":
		return &s3.Grantee{Type: aws.String(s3.TypeCanonicalUser), ID: aws.String(v)}
	case "uri":
		return &s3.Grantee{Type: aws.String(s3.TypeGroup), URI: aws.String(v)}
	}
	return nil
}

func ownerGrant() []*s3.Grant {
	return []*s3.Grant{{
		Grantee:    &s3.Grantee{Type: aws.String(s3.TypeCanonicalUser), ID: aws.String(OwnerID)},
		Permission: aws.String(s3.PermissionFullControl),
	}}
}

func copyGrants(in []*s3.Grant) []*s3.Grant {
	out := make([]*s3.Grant, 0, len(in))
	for _, g := range in {
		if g == nil {
			continue
		}
		c := &s3.Grant{Permission: g.Permission}
		if g.Grantee != nil {
			ge := *g.Grantee
			c.Grantee = &ge
		}
		out = append(out, c)
	}
	return out
}
