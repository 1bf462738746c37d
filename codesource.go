package jacc

import (
	"sort"
	"strings"
)

// CodeSource identifies where code came from and who signed it.
// A nil *CodeSource is the unsigned code source with no location.
type CodeSource struct {
	Location string   `json:"location" yaml:"location"`
	Signers  []string `json:"signers,omitempty" yaml:"signers,omitempty"`
}

// UnsignedCodeSource is used when a cache is built without a code source.
var UnsignedCodeSource = &CodeSource{}

func NewCodeSource(location string, signers ...string) *CodeSource {
	return &CodeSource{Location: location, Signers: append([]string(nil), signers...)}
}

// Key is a stable identity for the code source; signer order is ignored.
func (cs *CodeSource) Key() string {
	if cs == nil {
		return "|"
	}
	signers := append([]string(nil), cs.Signers...)
	sort.Strings(signers)
	return cs.Location + "|" + strings.Join(signers, ",")
}

func (cs *CodeSource) String() string {
	if cs == nil || (cs.Location == "" && len(cs.Signers) == 0) {
		return "(unsigned, no location)"
	}
	if len(cs.Signers) == 0 {
		return "(" + cs.Location + ", unsigned)"
	}
	return "(" + cs.Location + ", " + strings.Join(cs.Signers, ",") + ")"
}

func codeSourceOrDefault(cs *CodeSource) *CodeSource {
	if cs == nil {
		return UnsignedCodeSource
	}
	return cs
}
