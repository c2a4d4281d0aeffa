package cloudfetch

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// State is a pipeline stage.
type State int

const (
	Start State = iota
	Authenticating
	Verifying
	Fetching
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case Authenticating:
		return "authenticating"
	case Verifying:
		return "verifying"
	case Fetching:
		return "fetching"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrPipelineUsed is returned when a Pipeline is run a second time.
var ErrPipelineUsed = errors.New("pipeline already ran")

// Pipeline drives one authenticate -> verify -> fetch -> print sequence.
// A Pipeline is single use: credentials are resolved at most once.
type Pipeline struct {
	provider Provider
	log      Logger
	state    State

	cred     *Credential
	identity *Identity
}

func NewPipeline(provider Provider, log Logger) *Pipeline {
	return &Pipeline{
		provider: provider,
		log:      log.WithField("provider", provider.Name()),
		state:    Start,
	}
}

// State returns the current stage.
func (p *Pipeline) State() State {
	return p.state
}

// Credential returns the resolved credential, or nil before authentication
// succeeded.
func (p *Pipeline) Credential() *Credential {
	return p.cred
}

// Identity returns what verification reported, or nil before it succeeded.
func (p *Pipeline) Identity() *Identity {
	return p.identity
}

func (p *Pipeline) transition(to State) {
	p.log.Debugf("state %s -> %s", p.state, to)
	p.state = to
}

func (p *Pipeline) fail(err error) error {
	stage := p.state
	p.transition(Failed)
	return &StageError{Stage: stage, Err: err}
}

// Run resolves and verifies a credential, fetches req and writes the
// rendered payload to out. Nothing is written to out unless every stage
// succeeded.
func (p *Pipeline) Run(ctx context.Context, req *FetchRequest, out io.Writer) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := p.authenticate(ctx); err != nil {
		return err
	}
	if err := p.verify(ctx); err != nil {
		return err
	}

	p.transition(Fetching)
	rendered, err := p.fetch(ctx, req)
	if err != nil {
		return p.fail(err)
	}
	if err := rendered.Emit(out); err != nil {
		return p.fail(err)
	}

	p.transition(Done)
	return nil
}

// Identify resolves and verifies a credential without fetching anything.
func (p *Pipeline) Identify(ctx context.Context) (*Identity, error) {
	if err := p.authenticate(ctx); err != nil {
		return nil, err
	}
	if err := p.verify(ctx); err != nil {
		return nil, err
	}
	p.transition(Done)
	return p.identity, nil
}

func (p *Pipeline) authenticate(ctx context.Context) error {
	if p.state != Start {
		return ErrPipelineUsed
	}
	p.transition(Authenticating)

	cred, err := ResolveCredential(ctx, p.log, p.provider.Strategies())
	if err != nil {
		return p.fail(err)
	}
	p.cred = cred
	return nil
}

func (p *Pipeline) verify(ctx context.Context) error {
	p.transition(Verifying)

	client, err := p.provider.IdentityClient(p.cred)
	if err != nil {
		return p.fail(&AuthVerificationError{
			Provider: p.provider.Name(),
			Err:      errors.Wrap(err, "build identity client"),
		})
	}

	id, err := client.Verify(ctx)
	if err != nil {
		var verr *AuthVerificationError
		if !errors.As(err, &verr) {
			err = &AuthVerificationError{Provider: p.provider.Name(), Err: err}
		}
		return p.fail(err)
	}
	if id == nil {
		return p.fail(&AuthVerificationError{
			Provider: p.provider.Name(),
			Err:      errors.New("verification returned no identity"),
		})
	}
	if id.Source == "" {
		id.Source = p.cred.Source
	}
	p.identity = id

	p.log.WithField("principal", id.Principal).Debug("credential verified")
	return nil
}

func (p *Pipeline) fetch(ctx context.Context, req *FetchRequest) (*Rendered, error) {
	client, err := p.provider.StorageClient(p.cred)
	if err != nil {
		return nil, errors.Wrap(err, "build storage client")
	}

	res, err := client.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	p.log.WithField("source", res.Source).Debugf("fetched %d bytes (%s)", len(res.Body), res.ContentType)

	return Render(res.Body)
}
