package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/miekg/dns"
	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// DefaultBucketWait bounds how long EnsureBucket waits for a new bucket.
const DefaultBucketWait = 2 * time.Minute

// ValidateBucketName checks that name can be used as a virtual-host style
// bucket, i.e. as a single DNS compatible name under the S3 domain.
func ValidateBucketName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: missing bucket name", interfaces.ErrConfiguration)
	}
	if len(name) < 3 || len(name) > 63 {
		return fmt.Errorf("%w: bucket name %q must be between 3 and 63 characters", interfaces.ErrConfiguration, name)
	}
	for _, c := range name {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '.') {
			return fmt.Errorf("%w: bucket name %q contains invalid character %q", interfaces.ErrConfiguration, name, c)
		}
	}
	if strings.Contains(name, "..") || strings.Contains(name, ".-") || strings.Contains(name, "-.") {
		return fmt.Errorf("%w: bucket name %q has malformed labels", interfaces.ErrConfiguration, name)
	}
	if !isAlnum(name[0]) || !isAlnum(name[len(name)-1]) {
		return fmt.Errorf("%w: bucket name %q must start and end with a letter or digit", interfaces.ErrConfiguration, name)
	}
	if ip := net.ParseIP(name); ip != nil {
		return fmt.Errorf("%w: bucket name %q must not be an IP address", interfaces.ErrConfiguration, name)
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return fmt.Errorf("%w: bucket name %q is not a valid DNS name", interfaces.ErrConfiguration, name)
	}
	return nil
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// EnsureBucket creates bucket if it does not exist yet and waits until S3
// reports it. Waiting longer than timeout yields ErrBackendUnavailable.
func EnsureBucket(ctx context.Context, client s3iface.S3API, bucket string, timeout time.Duration, log *slog.Logger) error {
	start := time.Now()
	_, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("%w: head bucket %s: %v", interfaces.ErrBackendUnavailable, bucket, err)
	}

	log.Info("Creating bucket", slog.String("bucket", bucket))
	_, err = client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !hasCode(err, s3.ErrCodeBucketAlreadyOwnedByYou) {
		return fmt.Errorf("%w: create bucket %s: %v", interfaces.ErrBackendUnavailable, bucket, err)
	}

	if timeout <= 0 {
		timeout = DefaultBucketWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.WaitUntilBucketExistsWithContext(waitCtx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("%w: waiting for bucket %s: %v", interfaces.ErrBackendUnavailable, bucket, err)
	}

	log.Info("Bucket created",
		slog.String("bucket", bucket),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// IsNotFound reports whether err means the requested key (or bucket, for
// HeadBucket) does not exist.
func IsNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode() == http.StatusNotFound && reqErr.Code() != s3.ErrCodeNoSuchBucket
	}
	return false
}

func hasCode(err error, code string) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == code
}
