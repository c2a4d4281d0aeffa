package cloudfetch_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	strategies []cloudfetch.Strategy

	verifyErr error
	body      []byte
	fetchErr  error

	verifiedWith *cloudfetch.Credential
	verifyCalls  int
	fetchCalls   int
}

func (f *fakeProvider) Name() string                      { return "fake" }
func (f *fakeProvider) Strategies() []cloudfetch.Strategy { return f.strategies }

func (f *fakeProvider) IdentityClient(cred *cloudfetch.Credential) (cloudfetch.IdentityClient, error) {
	f.verifiedWith = cred
	return fakeIdentity{f}, nil
}

func (f *fakeProvider) StorageClient(cred *cloudfetch.Credential) (cloudfetch.StorageClient, error) {
	return fakeStorage{f}, nil
}

type fakeIdentity struct{ f *fakeProvider }

func (c fakeIdentity) Verify(ctx context.Context) (*cloudfetch.Identity, error) {
	c.f.verifyCalls++
	if c.f.verifyErr != nil {
		return nil, c.f.verifyErr
	}
	return &cloudfetch.Identity{Provider: "fake", Principal: "tester", Account: "42"}, nil
}

type fakeStorage struct{ f *fakeProvider }

func (c fakeStorage) Fetch(ctx context.Context, req *cloudfetch.FetchRequest) (*cloudfetch.FetchResult, error) {
	c.f.fetchCalls++
	if c.f.fetchErr != nil {
		return nil, c.f.fetchErr
	}
	return &cloudfetch.FetchResult{Body: c.f.body, Source: req.String()}, nil
}

func staticStrategy(name string, cred *cloudfetch.Credential) cloudfetch.Strategy {
	return cloudfetch.StrategyFunc{Label: name, Fn: func(context.Context) (*cloudfetch.Credential, error) {
		return cred, nil
	}}
}

func failingStrategy(name string) cloudfetch.Strategy {
	return cloudfetch.StrategyFunc{Label: name, Fn: func(context.Context) (*cloudfetch.Credential, error) {
		return nil, errors.New(name + " unavailable")
	}}
}

var (
	profileCred = &cloudfetch.Credential{Source: cloudfetch.SourceConfigFile, Region: "us-west-2", Profile: "default"}
	objectReq   = &cloudfetch.FetchRequest{Namespace: "acme", Bucket: "data", Object: "doc.json"}
)

func run(t *testing.T, prov *fakeProvider) (*cloudfetch.Pipeline, string, error) {
	logger, _ := test.NewNullLogger()
	p := cloudfetch.NewPipeline(prov, logger)
	var out bytes.Buffer
	err := p.Run(context.Background(), objectReq, &out)
	return p, out.String(), err
}

func TestRunJSONObject(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
		body:       []byte(`{"a":1}`),
	}

	p, out, err := run(t, prov)
	require.NoError(t, err)

	assert.Equal(t, "{\n  \"a\": 1\n}", out)
	assert.Equal(t, 0, cloudfetch.ExitCode(err))
	assert.Equal(t, cloudfetch.Done, p.State())
	assert.Equal(t, 1, prov.fetchCalls)
}

func TestRunPlainText(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
		body:       []byte("hello,world"),
	}

	_, out, err := run(t, prov)
	require.NoError(t, err)
	assert.Equal(t, "hello,world", out)
	assert.Equal(t, 0, cloudfetch.ExitCode(err))
}

func TestRunFallsBackToInstanceIdentity(t *testing.T) {
	instanceCred := &cloudfetch.Credential{Source: cloudfetch.SourceInstancePrincipal, Region: "eu-west-1", Tenancy: "123"}
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{failingStrategy("profile"), staticStrategy("instance", instanceCred)},
		body:       []byte(`[]`),
	}

	p, out, err := run(t, prov)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	assert.Same(t, instanceCred, prov.verifiedWith)
	assert.Equal(t, cloudfetch.SourceInstancePrincipal, p.Identity().Source)
	assert.Equal(t, "123", p.Credential().Tenancy, "instance tenancy is kept")
}

func TestRunAccountComesFromIdentity(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
		body:       []byte(`{}`),
	}

	p, _, err := run(t, prov)
	require.NoError(t, err)
	assert.Equal(t, "42", p.Identity().Account)
	assert.Same(t, profileCred, p.Credential())
	assert.Empty(t, p.Credential().Tenancy, "verification does not modify the credential")
}

func TestRunAllStrategiesFail(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{failingStrategy("profile"), failingStrategy("instance")},
		body:       []byte(`{"a":1}`),
	}

	p, out, err := run(t, prov)
	require.Error(t, err)

	assert.Equal(t, 1, cloudfetch.ExitCode(err))
	assert.Empty(t, out)
	assert.Equal(t, cloudfetch.Failed, p.State())
	assert.Equal(t, cloudfetch.Authenticating, cloudfetch.FailedStage(err))
	assert.Zero(t, prov.verifyCalls)
	assert.Zero(t, prov.fetchCalls)

	var resErr *cloudfetch.AuthResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Len(t, resErr.Attempts, 2)
	assert.Contains(t, err.Error(), "instance unavailable")
}

func TestRunVerificationFails(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
		verifyErr:  errors.New("token expired"),
		body:       []byte(`{"a":1}`),
	}

	_, out, err := run(t, prov)
	require.Error(t, err)

	assert.Equal(t, 1, cloudfetch.ExitCode(err))
	assert.Empty(t, out)
	assert.Equal(t, cloudfetch.Verifying, cloudfetch.FailedStage(err))
	assert.Equal(t, 1, prov.verifyCalls)
	assert.Zero(t, prov.fetchCalls, "must not fetch with an unverified credential")

	var verr *cloudfetch.AuthVerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "token expired", errors.Cause(err).Error())
}

func TestRunFetchServiceError(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
		fetchErr:   &cloudfetch.FetchServiceError{StatusCode: 404, Code: "NoSuchKey", Message: "The specified key does not exist."},
	}

	_, out, err := run(t, prov)
	require.Error(t, err)

	assert.Equal(t, 1, cloudfetch.ExitCode(err))
	assert.Empty(t, out)
	assert.Equal(t, cloudfetch.Fetching, cloudfetch.FailedStage(err))
	assert.Equal(t, 1, prov.fetchCalls)

	var serr *cloudfetch.FetchServiceError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 404, serr.StatusCode)
	assert.Contains(t, err.Error(), "NoSuchKey")
}

func TestRunTransportError(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
		fetchErr:   &cloudfetch.TransportError{Endpoint: "s3.example", Err: errors.New("connection refused")},
	}

	_, out, err := run(t, prov)
	require.Error(t, err)
	assert.Empty(t, out)

	var terr *cloudfetch.TransportError
	assert.True(t, errors.As(err, &terr))
}

func TestRunDecodeError(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
		body:       []byte{0xff, 0xfe, 0xfd},
	}

	_, out, err := run(t, prov)
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, cloudfetch.Fetching, cloudfetch.FailedStage(err))

	var derr *cloudfetch.DecodeError
	assert.True(t, errors.As(err, &derr))
}

func TestRunIsSingleUse(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
		body:       []byte(`{}`),
	}

	p, _, err := run(t, prov)
	require.NoError(t, err)

	err = p.Run(context.Background(), objectReq, &bytes.Buffer{})
	assert.Equal(t, cloudfetch.ErrPipelineUsed, err)
	assert.Equal(t, 1, prov.verifyCalls)
}

func TestRunRejectsIncompleteRequest(t *testing.T) {
	called := false
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{cloudfetch.StrategyFunc{Label: "profile", Fn: func(context.Context) (*cloudfetch.Credential, error) {
			called = true
			return profileCred, nil
		}}},
	}
	logger, _ := test.NewNullLogger()
	p := cloudfetch.NewPipeline(prov, logger)

	err := p.Run(context.Background(), &cloudfetch.FetchRequest{Bucket: "data"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Object")
	assert.False(t, called)
	assert.Equal(t, cloudfetch.Start, p.State())
}

func TestIdentify(t *testing.T) {
	prov := &fakeProvider{
		strategies: []cloudfetch.Strategy{staticStrategy("profile", profileCred)},
	}
	logger, _ := test.NewNullLogger()
	p := cloudfetch.NewPipeline(prov, logger)

	id, err := p.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tester", id.Principal)
	assert.Equal(t, cloudfetch.SourceConfigFile, id.Source)
	assert.Equal(t, cloudfetch.Done, p.State())
	assert.Zero(t, prov.fetchCalls)
}
