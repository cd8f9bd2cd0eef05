package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/s3mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"my-bucket", true},
		{"static.example.com", true},
		{"abc", true},
		{"", false},
		{"ab", false},
		{"UpperCase", false},
		{"under_score", false},
		{"-leading", false},
		{"trailing-", false},
		{"double..dot", false},
		{"dash-.dot", false},
		{"192.168.0.1", false},
		{"a" + fmt.Sprintf("%063d", 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBucketName(tt.name)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, interfaces.ErrConfiguration)
			}
		})
	}
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()

	t.Run("existing bucket", func(t *testing.T) {
		fake := s3mock.New("present")
		require.NoError(t, EnsureBucket(ctx, fake, "present", 0, slog.Default()))
		assert.Zero(t, fake.CallCount("CreateBucket"))
	})

	t.Run("creates missing bucket", func(t *testing.T) {
		fake := s3mock.New()
		require.NoError(t, EnsureBucket(ctx, fake, "fresh", 0, slog.Default()))
		assert.Equal(t, 1, fake.CallCount("CreateBucket"))
		assert.Equal(t, 1, fake.CallCount("WaitUntilBucketExists"))
	})

	t.Run("head fault", func(t *testing.T) {
		fake := s3mock.New()
		fake.Errors["HeadBucket"] = awserr.NewRequestFailure(awserr.New("Forbidden", "denied", nil), http.StatusForbidden, "x")
		err := EnsureBucket(ctx, fake, "fresh", 0, slog.Default())
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})

	t.Run("wait fault", func(t *testing.T) {
		fake := s3mock.New()
		fake.Errors["WaitUntilBucketExists"] = awserr.New("ResourceNotReady", "timeout", nil)
		err := EnsureBucket(ctx, fake, "fresh", 0, slog.Default())
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(awserr.New(s3.ErrCodeNoSuchKey, "", nil)))
	assert.True(t, IsNotFound(awserr.NewRequestFailure(awserr.New("NotFound", "", nil), http.StatusNotFound, "")))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", awserr.New(s3.ErrCodeNoSuchKey, "", nil))))
	assert.False(t, IsNotFound(awserr.NewRequestFailure(awserr.New(s3.ErrCodeNoSuchBucket, "", nil), http.StatusNotFound, "")))
	assert.False(t, IsNotFound(awserr.New("RequestError", "", nil)))
	assert.False(t, IsNotFound(nil))
}
