package autosync

import (
	"errors"
	"strings"

	"github.com/jotkit/jot/internal/gitport"
)

// ErrorKind categorizes a sync failure. Only KindConflict ever halts
// automation; everything else either retries or surfaces to the user.
type ErrorKind string

const (
	// KindConflict is a true merge conflict requiring manual resolution.
	KindConflict ErrorKind = "conflict"

	// KindNetwork is a transient connectivity failure. Retryable.
	KindNetwork ErrorKind = "network"

	// KindAuthentication is a credential or permission failure.
	// Retrying cannot fix it.
	KindAuthentication ErrorKind = "authentication"

	// KindSSHConnection is an SSH transport failure. Retryable.
	KindSSHConnection ErrorKind = "ssh-connection"

	// KindConfiguration is a repository or git config problem.
	// Retrying cannot fix it.
	KindConfiguration ErrorKind = "configuration"

	// KindUnknown is an unrecognized failure. Treated as non-retryable
	// to avoid infinite loops on failures we cannot reason about.
	KindUnknown ErrorKind = "unknown"
)

// Classification is the classifier's verdict on a raw failure.
type Classification struct {
	Kind    ErrorKind
	Message string

	// IsConflict is true only for failures that must halt automation.
	IsConflict bool
}

// Retryable reports whether the failure may succeed on retry.
// Conflicts need user action; authentication and configuration failures
// need reconfiguration; unknown failures are conservatively terminal.
func (c Classification) Retryable() bool {
	return c.Kind == KindNetwork || c.Kind == KindSSHConnection
}

// keywordRule maps message keywords to an error kind. Rules are evaluated
// in order; the first rule with a matching keyword wins.
type keywordRule struct {
	kind     ErrorKind
	keywords []string
}

// classifyRules is the ordered fallback table for failures that carry no
// structured error. Matching is case-insensitive. Keyword sets cover
// English and German git output, since git localizes its messages.
//
// Conflict keywords come first: a message mentioning both a conflict and
// the network is a conflict. SSH precedes network so that "ssh: connect
// ... connection refused" classifies as an SSH failure, not a generic
// network one.
var classifyRules = []keywordRule{
	{
		kind: KindConflict,
		keywords: []string{
			"conflict",
			"automatic merge failed",
			"merge failed",
			"needs merge",
			"unmerged",
			"konflikt",
			"automatisches zusammenführen fehlgeschlagen",
			"nicht zusammengeführt",
		},
	},
	{
		kind: KindSSHConnection,
		keywords: []string{
			"ssh: connect to host",
			"ssh_exchange_identification",
			"kex_exchange_identification",
			"ssh: handshake failed",
		},
	},
	{
		kind: KindNetwork,
		keywords: []string{
			"could not read from remote",
			"could not resolve host",
			"connection timed out",
			"connection refused",
			"connection reset",
			"network is unreachable",
			"operation timed out",
			"timeout",
			"temporary failure in name resolution",
			"remote hung up",
			"verbindung",
			"zeitüberschreitung",
			"netzwerk",
			"konnte nicht vom remote",
		},
	},
	{
		kind: KindAuthentication,
		keywords: []string{
			"authentication failed",
			"permission denied",
			"publickey",
			"could not read username",
			"could not read password",
			"unauthorized",
			"403",
			"invalid credentials",
			"authentifizierung fehlgeschlagen",
			"zugriff verweigert",
			"keine berechtigung",
		},
	},
	{
		kind: KindConfiguration,
		keywords: []string{
			"rebase",
			"no upstream",
			"no tracking information",
			"not a git repository",
			"bad config",
			"unknown option",
			"kein upstream",
			"kein git-repository",
		},
	},
}

// Classify maps a raw failure to its error kind.
//
// Structured errors from the port take precedence over message patterns:
// a ConflictError (or wrapped sentinel) is authoritative. The keyword
// table is a documented fallback for the many failures git only reports
// as human-readable text.
//
// The precedence is deliberately biased toward not declaring conflict: a
// flaky network must never strand the user in manual-intervention mode.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown}
	}

	// Structured conflict information wins outright.
	var conflictErr *gitport.ConflictError
	if errors.As(err, &conflictErr) {
		return Classification{
			Kind:       KindConflict,
			Message:    conflictErr.Error(),
			IsConflict: true,
		}
	}

	// Structured non-conflict signals from the port.
	switch {
	case errors.Is(err, gitport.ErrNoRemote),
		errors.Is(err, gitport.ErrDetached),
		errors.Is(err, gitport.ErrNotRepository),
		errors.Is(err, gitport.ErrGitNotAvailable):
		return Classification{Kind: KindConfiguration, Message: err.Error()}
	case errors.Is(err, gitport.ErrPushRejected):
		// Divergent remote: a pull on the next attempt usually resolves it.
		return Classification{Kind: KindNetwork, Message: err.Error()}
	}

	// Fallback: ordered keyword matching on the message.
	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return Classification{
					Kind:       rule.kind,
					Message:    err.Error(),
					IsConflict: rule.kind == KindConflict,
				}
			}
		}
	}

	return Classification{Kind: KindUnknown, Message: err.Error()}
}
