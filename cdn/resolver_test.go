package cdn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDistributionID = "E2QWRUHAPOMQZL"

// MockCloudFront implements the CloudFront calls used by the resolver.
type MockCloudFront struct {
	cloudfrontiface.CloudFrontAPI
	mock.Mock
}

func (m *MockCloudFront) GetDistributionWithContext(ctx aws.Context, in *cloudfront.GetDistributionInput, _ ...request.Option) (*cloudfront.GetDistributionOutput, error) {
	args := m.Called(ctx, aws.StringValue(in.Id))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cloudfront.GetDistributionOutput), args.Error(1)
}

func (m *MockCloudFront) GetCloudFrontOriginAccessIdentityWithContext(ctx aws.Context, in *cloudfront.GetCloudFrontOriginAccessIdentityInput, _ ...request.Option) (*cloudfront.GetCloudFrontOriginAccessIdentityOutput, error) {
	args := m.Called(ctx, aws.StringValue(in.Id))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cloudfront.GetCloudFrontOriginAccessIdentityOutput), args.Error(1)
}

func distribution(origins ...*cloudfront.Origin) *cloudfront.GetDistributionOutput {
	return &cloudfront.GetDistributionOutput{
		Distribution: &cloudfront.Distribution{
			Id:         aws.String(testDistributionID),
			DomainName: aws.String("d111111abcdef8.cloudfront.net"),
			DistributionConfig: &cloudfront.DistributionConfig{
				Origins: &cloudfront.Origins{
					Quantity: aws.Int64(int64(len(origins))),
					Items:    origins,
				},
			},
		},
	}
}

func s3Origin(host, oai string) *cloudfront.Origin {
	return &cloudfront.Origin{
		Id:             aws.String("origin-" + host),
		DomainName:     aws.String(host),
		S3OriginConfig: &cloudfront.S3OriginConfig{OriginAccessIdentity: aws.String(oai)},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolve_WithOriginAccessIdentity(t *testing.T) {
	client := new(MockCloudFront)
	client.On("GetDistributionWithContext", mock.Anything, testDistributionID).Return(distribution(
		s3Origin("other-bucket.s3.amazonaws.com", ""),
		s3Origin("my-bucket.s3.amazonaws.com", "origin-access-identity/cloudfront/E74FTE3AEXAMPLE"),
	), nil)
	client.On("GetCloudFrontOriginAccessIdentityWithContext", mock.Anything, "E74FTE3AEXAMPLE").Return(&cloudfront.GetCloudFrontOriginAccessIdentityOutput{
		CloudFrontOriginAccessIdentity: &cloudfront.OriginAccessIdentity{
			Id:                aws.String("E74FTE3AEXAMPLE"),
			S3CanonicalUserId: aws.String("canonical-oai"),
		},
	}, nil)

	resolver := NewResolver(client, testLogger())
	res, err := resolver.Resolve(context.Background(), "my-bucket", testDistributionID)
	require.NoError(t, err)

	assert.True(t, res.Enabled)
	assert.Equal(t, "d111111abcdef8.cloudfront.net", res.DomainName)
	require.NotNil(t, res.OriginPrincipal)
	assert.Equal(t, interfaces.NewCanonicalUser("canonical-oai"), *res.OriginPrincipal)
	assert.Equal(t, interfaces.NewCanonicalUser("canonical-oai"), res.ReadGrantee())
	client.AssertExpectations(t)
}

func TestResolve_WithoutOriginAccessIdentity(t *testing.T) {
	client := new(MockCloudFront)
	client.On("GetDistributionWithContext", mock.Anything, testDistributionID).Return(distribution(
		s3Origin("my-bucket.s3.eu-west-1.amazonaws.com", ""),
	), nil)

	resolver := NewResolver(client, testLogger())
	res, err := resolver.Resolve(context.Background(), "my-bucket", testDistributionID)
	require.NoError(t, err)

	assert.True(t, res.Enabled)
	assert.Nil(t, res.OriginPrincipal)
	assert.Equal(t, interfaces.AllUsers(), res.ReadGrantee())
	client.AssertNotCalled(t, "GetCloudFrontOriginAccessIdentityWithContext", mock.Anything, mock.Anything)
}

func TestResolve_OriginNotFound(t *testing.T) {
	client := new(MockCloudFront)
	client.On("GetDistributionWithContext", mock.Anything, testDistributionID).Return(distribution(
		s3Origin("other-bucket.s3.amazonaws.com", "origin-access-identity/cloudfront/E74FTE3AEXAMPLE"),
		s3Origin("my-bucket-logs.s3.amazonaws.com", ""),
	), nil)

	resolver := NewResolver(client, testLogger())
	_, err := resolver.Resolve(context.Background(), "my-bucket", testDistributionID)
	assert.ErrorIs(t, err, interfaces.ErrOriginNotFound)
}

func TestResolve_NoDistribution(t *testing.T) {
	resolver := NewResolver(nil, testLogger())
	res, err := resolver.Resolve(context.Background(), "my-bucket", "")
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Equal(t, interfaces.AllUsers(), res.ReadGrantee())
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name           string
		distributionID string
		setup          func(*MockCloudFront)
		expected       error
	}{
		{
			name:           "malformed id",
			distributionID: "not a distribution",
			setup:          func(*MockCloudFront) {},
			expected:       interfaces.ErrConfiguration,
		},
		{
			name:           "unknown distribution",
			distributionID: testDistributionID,
			setup: func(m *MockCloudFront) {
				m.On("GetDistributionWithContext", mock.Anything, testDistributionID).
					Return(nil, awserr.New(cloudfront.ErrCodeNoSuchDistribution, "gone", nil))
			},
			expected: interfaces.ErrConfiguration,
		},
		{
			name:           "transport fault",
			distributionID: testDistributionID,
			setup: func(m *MockCloudFront) {
				m.On("GetDistributionWithContext", mock.Anything, testDistributionID).
					Return(nil, errors.New("connection reset"))
			},
			expected: interfaces.ErrBackendUnavailable,
		},
		{
			name:           "identity lookup fails",
			distributionID: testDistributionID,
			setup: func(m *MockCloudFront) {
				m.On("GetDistributionWithContext", mock.Anything, testDistributionID).Return(distribution(
					s3Origin("my-bucket.s3.amazonaws.com", "origin-access-identity/cloudfront/E74FTE3AEXAMPLE"),
				), nil)
				m.On("GetCloudFrontOriginAccessIdentityWithContext", mock.Anything, "E74FTE3AEXAMPLE").
					Return(nil, errors.New("timeout"))
			},
			expected: interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockCloudFront)
			tt.setup(client)

			resolver := NewResolver(client, testLogger())
			_, err := resolver.Resolve(context.Background(), "my-bucket", tt.distributionID)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestIsBucketHost(t *testing.T) {
	tests := []struct {
		host     string
		expected bool
	}{
		{"my-bucket.s3.amazonaws.com", true},
		{"MY-BUCKET.s3.amazonaws.com.", true},
		{"my-bucket.s3.us-west-2.amazonaws.com", true},
		{"my-bucket.s3-us-west-2.amazonaws.com", true},
		{"my-bucket.s3.amazonaws.com.evil.com", false},
		{"other.my-bucket.s3.amazonaws.com", false},
		{"my-bucket-2.s3.amazonaws.com", false},
		{"my-bucket.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsBucketHost(tt.host, "my-bucket"))
		})
	}
}
