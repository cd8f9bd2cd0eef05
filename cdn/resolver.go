package cdn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// OriginAccessIdentityPrefix prefixes OAI references in S3 origin configs.
const OriginAccessIdentityPrefix = "origin-access-identity/cloudfront/"

var distributionIDPattern = regexp.MustCompile(`^[A-Z0-9]{6,32}$`)

// Resolver discovers whether a bucket is fronted by a CloudFront distribution.
type Resolver struct {
	client cloudfrontiface.CloudFrontAPI
	log    *slog.Logger
}

// NewResolver creates a resolver using the given CloudFront client.
func NewResolver(client cloudfrontiface.CloudFrontAPI, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		client: client,
		log:    log,
	}
}

// ValidateDistributionID checks the shape of a CloudFront distribution id.
func ValidateDistributionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing CloudFront distribution identifier", interfaces.ErrConfiguration)
	}
	if !distributionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: malformed CloudFront distribution identifier %q", interfaces.ErrConfiguration, id)
	}
	return nil
}

// Resolve returns how bucketName is served through distributionID. An empty
// distributionID means no CDN: the resolution is disabled and published
// objects are granted to everyone.
//
// The bucket must be one of the distribution's origins, otherwise
// ErrOriginNotFound is returned. If the matching origin reads through an
// origin access identity, its canonical user becomes the origin principal.
func (r *Resolver) Resolve(ctx context.Context, bucketName, distributionID string) (interfaces.CdnResolution, error) {
	if distributionID == "" {
		return interfaces.CdnResolution{}, nil
	}
	if err := ValidateDistributionID(distributionID); err != nil {
		return interfaces.CdnResolution{}, err
	}
	if r.client == nil {
		return interfaces.CdnResolution{}, fmt.Errorf("%w: no CloudFront client configured", interfaces.ErrConfiguration)
	}

	start := time.Now()
	out, err := r.client.GetDistributionWithContext(ctx, &cloudfront.GetDistributionInput{
		Id: aws.String(distributionID),
	})
	if err != nil {
		return interfaces.CdnResolution{}, r.classify(err, "get distribution "+distributionID)
	}
	if out.Distribution == nil || out.Distribution.DistributionConfig == nil {
		return interfaces.CdnResolution{}, fmt.Errorf("%w: distribution %s has no configuration", interfaces.ErrBackendUnavailable, distributionID)
	}

	origin := findBucketOrigin(out.Distribution.DistributionConfig.Origins, bucketName)
	if origin == nil {
		r.log.Error("Bucket is not an origin of the distribution",
			slog.String("bucket", bucketName),
			slog.String("distribution", distributionID))
		return interfaces.CdnResolution{}, fmt.Errorf("%w: bucket %s, distribution %s", interfaces.ErrOriginNotFound, bucketName, distributionID)
	}

	resolution := interfaces.CdnResolution{
		Enabled:    true,
		DomainName: aws.StringValue(out.Distribution.DomainName),
	}

	oai := ""
	if origin.S3OriginConfig != nil {
		oai = aws.StringValue(origin.S3OriginConfig.OriginAccessIdentity)
	}
	if oai != "" {
		canonicalID, err := r.canonicalUser(ctx, oai)
		if err != nil {
			return interfaces.CdnResolution{}, err
		}
		principal := interfaces.NewCanonicalUser(canonicalID)
		resolution.OriginPrincipal = &principal
	}

	r.log.Info("Resolved CDN origin",
		slog.String("bucket", bucketName),
		slog.String("distribution", distributionID),
		slog.String("domain", resolution.DomainName),
		slog.Bool("origin_access_identity", resolution.OriginPrincipal != nil),
		slog.Duration("duration", time.Since(start)))

	return resolution, nil
}

func (r *Resolver) canonicalUser(ctx context.Context, reference string) (string, error) {
	id := strings.TrimPrefix(reference, OriginAccessIdentityPrefix)
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: malformed origin access identity reference %q", interfaces.ErrConfiguration, reference)
	}

	out, err := r.client.GetCloudFrontOriginAccessIdentityWithContext(ctx, &cloudfront.GetCloudFrontOriginAccessIdentityInput{
		Id: aws.String(id),
	})
	if err != nil {
		return "", r.classify(err, "get origin access identity "+id)
	}
	if out.CloudFrontOriginAccessIdentity == nil || aws.StringValue(out.CloudFrontOriginAccessIdentity.S3CanonicalUserId) == "" {
		return "", fmt.Errorf("%w: origin access identity %s has no canonical user", interfaces.ErrConfiguration, id)
	}
	return aws.StringValue(out.CloudFrontOriginAccessIdentity.S3CanonicalUserId), nil
}

// classify maps CloudFront errors onto the module's error taxonomy.
func (r *Resolver) classify(err error, op string) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case cloudfront.ErrCodeNoSuchDistribution, cloudfront.ErrCodeNoSuchCloudFrontOriginAccessIdentity:
			return fmt.Errorf("%w: %s: %v", interfaces.ErrConfiguration, op, err)
		}
	}
	r.log.Error("CloudFront request failed", slog.String("op", op), "err", err)
	return fmt.Errorf("%w: %s: %v", interfaces.ErrBackendUnavailable, op, err)
}

func findBucketOrigin(origins *cloudfront.Origins, bucketName string) *cloudfront.Origin {
	if origins == nil {
		return nil
	}
	for _, origin := range origins.Items {
		if origin != nil && IsBucketHost(aws.StringValue(origin.DomainName), bucketName) {
			return origin
		}
	}
	return nil
}

// IsBucketHost reports whether host is the conventional S3 hostname of
// bucketName: <bucket>.s3.amazonaws.com or one of its regional forms.
func IsBucketHost(host, bucketName string) bool {
	if bucketName == "" {
		return false
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	rest, ok := strings.CutPrefix(host, bucketName+".")
	if !ok {
		return false
	}
	if rest == "s3.amazonaws.com" {
		return true
	}
	region, ok := strings.CutSuffix(rest, ".amazonaws.com")
	if !ok {
		return false
	}
	if r, ok := strings.CutPrefix(region, "s3."); ok {
		return r != "" && !strings.Contains(r, ".")
	}
	if r, ok := strings.CutPrefix(region, "s3-"); ok {
		return r != "" && !strings.Contains(r, ".")
	}
	return false
}
