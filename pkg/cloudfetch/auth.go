package cloudfetch

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc struct {
	Label string
	Fn    func(ctx context.Context) (*Credential, error)
}

func (s StrategyFunc) Name() string { return s.Label }

func (s StrategyFunc) Attempt(ctx context.Context) (*Credential, error) {
	return s.Fn(ctx)
}

// ResolveCredential tries strategies in order and returns the first
// credential produced. If every strategy fails the result is an
// *AuthResolutionError naming the last failure.
func ResolveCredential(ctx context.Context, log Logger, strategies []Strategy) (*Credential, error) {
	failed := &AuthResolutionError{}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			failed.Attempts = append(failed.Attempts, &AuthError{Strategy: s.Name(), Err: err})
			break
		}

		cred, err := s.Attempt(ctx)
		if err == nil && cred == nil {
			err = errors.New("strategy returned no credential")
		}
		if err != nil {
			log.WithField("strategy", s.Name()).Debugf("authentication failed: %v", err)
			failed.Attempts = append(failed.Attempts, &AuthError{Strategy: s.Name(), Err: err})
			continue
		}

		log.WithFields(logrus.Fields{
			"strategy": s.Name(),
			"source":   cred.Source,
			"region":   cred.Region,
		}).Debug("resolved credential")
		return cred, nil
	}
	return nil, failed
}
