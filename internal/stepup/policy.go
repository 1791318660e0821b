// ABOUTME: Risk policy deciding when a sensitive operation demands fresh hardware proof
// ABOUTME: Thresholds and account patterns load from a TOML policy file

package stepup

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/vaultgate/vaultgate/internal/store"
)

// Defaults applied when no policy file is configured.
const (
	// defaultHighValueMinor is 1,000 currency units in minor units.
	defaultHighValueMinor = 100_000
	// defaultInternalAccountPattern recognizes in-house account numbers.
	defaultInternalAccountPattern = `^VG[0-9]{10}$`
)

// Operation kinds for sensitive routes.
const (
	KindTransfer   = "transfer"
	KindWithdrawal = "withdrawal"
	KindAccount    = "account"
	KindLoan       = "loan"
)

// Operation describes a proposed sensitive action as seen by the guard:
// the route-level kind plus the parameters parsed out of the request
// body. AmountMinor is meaningful only when HasAmount is set.
type Operation struct {
	Kind        string
	BodyType    string
	AmountMinor int64
	HasAmount   bool
	Destination string
	CallerRole  store.Role
}

// Policy holds the tunable risk thresholds.
type Policy struct {
	HighValueMinor  int64  `toml:"high_value_minor"`
	InternalPattern string `toml:"internal_account_pattern"`

	internalRe *regexp.Regexp
}

// DefaultPolicy returns the built-in thresholds.
func DefaultPolicy() *Policy {
	p := &Policy{
		HighValueMinor:  defaultHighValueMinor,
		InternalPattern: defaultInternalAccountPattern,
	}
	p.internalRe = regexp.MustCompile(p.InternalPattern)
	return p
}

// LoadPolicy reads a TOML policy file. Missing fields fall back to the
// defaults; an empty path returns the defaults outright.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if p.HighValueMinor <= 0 {
		p.HighValueMinor = defaultHighValueMinor
	}
	if p.InternalPattern == "" {
		p.InternalPattern = defaultInternalAccountPattern
	}
	p.internalRe, err = regexp.Compile(p.InternalPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid internal account pattern: %w", err)
	}
	return p, nil
}

// RequiresStepUp decides whether the operation may proceed on the
// current proof level or needs a fresh ceremony. Pure: no I/O, no
// clock.
func (p *Policy) RequiresStepUp(op Operation) bool {
	// Loan applications and admin callers always step up.
	if op.Kind == KindLoan {
		return true
	}
	if op.CallerRole == store.RoleAdmin {
		return true
	}
	// Account-creation-like shapes carry a type but no amount.
	if op.BodyType != "" && !op.HasAmount {
		return true
	}
	if op.HasAmount && op.AmountMinor > p.HighValueMinor {
		return true
	}
	if op.Destination != "" && !p.internalRe.MatchString(op.Destination) {
		return true
	}
	return false
}
