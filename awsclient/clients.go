package awsclient

import (
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// Config is the immutable AWS client configuration. It is passed to New
// once; there is no process-wide client factory.
type Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	// PathStyle forces path-style bucket addressing, needed by most
	// S3-compatible endpoints.
	PathStyle bool `yaml:"pathStyle"`
	// UploadPartSize is the multipart chunk size in bytes; zero keeps the SDK default.
	UploadPartSize int64 `yaml:"uploadPartSize"`
}

// Clients bundles the AWS APIs used by stores, targets and the CDN resolver.
type Clients struct {
	S3         s3iface.S3API
	Uploader   s3manageriface.UploaderAPI
	CloudFront cloudfrontiface.CloudFrontAPI
	Region     string
}

// New creates AWS clients from cfg. Static credentials are used when both
// keys are set, otherwise the SDK's default credential chain applies.
func New(cfg Config, log *slog.Logger) (*Clients, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	awsCfg := aws.Config{
		Region: aws.String(region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.PathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	} else if log != nil {
		log.Debug("No static AWS credentials configured, using default credential chain")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	s3Client := s3.New(sess)
	uploader := s3manager.NewUploaderWithClient(s3Client, func(u *s3manager.Uploader) {
		if cfg.UploadPartSize > 0 {
			u.PartSize = cfg.UploadPartSize
		}
	})

	return &Clients{
		S3:         s3Client,
		Uploader:   uploader,
		CloudFront: cloudfront.New(sess),
		Region:     region,
	}, nil
}
