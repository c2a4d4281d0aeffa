package awsstore

import (
	"context"
	"io/ioutil"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
)

type stsVerifier struct {
	client   stsiface.STSAPI
	endpoint string
	region   string
	source   cloudfetch.SourceKind
}

func newSTSVerifier(sess *session.Session, endpoint string, cred *cloudfetch.Credential) *stsVerifier {
	cfg := aws.NewConfig()
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	client := sts.New(sess, cfg)
	return &stsVerifier{
		client:   client,
		endpoint: client.Endpoint,
		region:   aws.StringValue(sess.Config.Region),
		source:   cred.Source,
	}
}

// Verify asks STS who we are. GetCallerIdentity needs no permissions and
// has no side effects, but fails for expired or revoked keys.
func (v *stsVerifier) Verify(ctx context.Context) (*cloudfetch.Identity, error) {
	out, err := v.client.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, &cloudfetch.AuthVerificationError{
			Provider: ProviderName,
			Err:      classify(err, v.endpoint),
		}
	}
	return &cloudfetch.Identity{
		Provider:  ProviderName,
		Principal: aws.StringValue(out.Arn),
		Account:   aws.StringValue(out.Account),
		Region:    v.region,
		Source:    v.source,
	}, nil
}

type s3Fetcher struct {
	client   s3iface.S3API
	endpoint string
	log      cloudfetch.Logger
}

func newS3Fetcher(sess *session.Session, endpoint string, pathStyle bool, log cloudfetch.Logger) *s3Fetcher {
	cfg := aws.NewConfig().WithS3ForcePathStyle(pathStyle)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	client := s3.New(sess, cfg)
	return &s3Fetcher{
		client:   client,
		endpoint: client.Endpoint,
		log:      log,
	}
}

// Fetch reads one object. A non-empty namespace is sent as the expected
// bucket owner, so S3 refuses to serve a bucket owned by another account.
func (f *s3Fetcher) Fetch(ctx context.Context, req *cloudfetch.FetchRequest) (*cloudfetch.FetchResult, error) {
	if req.IsFeed() {
		return nil, errors.New("S3 fetches objects, not URLs")
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Object),
	}
	if req.Namespace != "" {
		input.ExpectedBucketOwner = aws.String(req.Namespace)
	}

	f.log.Debugf("GetObject s3://%s/%s", req.Bucket, req.Object)
	out, err := f.client.GetObjectWithContext(ctx, input)
	if err != nil {
		return nil, classify(err, f.endpoint)
	}
	defer out.Body.Close()

	body, err := ioutil.ReadAll(out.Body)
	if err != nil {
		return nil, &cloudfetch.TransportError{
			Endpoint: f.endpoint,
			Err:      errors.Wrap(err, "read object body"),
		}
	}

	return &cloudfetch.FetchResult{
		Body:        body,
		ContentType: aws.StringValue(out.ContentType),
		Source:      "s3://" + req.Bucket + "/" + req.Object,
	}, nil
}

// classify separates errors the service answered with from errors reaching
// it. The SDK reports the former as awserr.RequestFailure with a real HTTP
// status.
func classify(err error, endpoint string) error {
	if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() > 0 {
		return &cloudfetch.FetchServiceError{
			StatusCode: reqErr.StatusCode(),
			Code:       reqErr.Code(),
			Message:    reqErr.Message(),
			Err:        err,
		}
	}
	return &cloudfetch.TransportError{Endpoint: endpoint, Err: err}
}
