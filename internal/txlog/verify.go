package txlog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrBijection is returned when the two artifacts disagree on their event ids
var ErrBijection = errors.New("transmission log artifacts are not in bijection")

// BijectionError lists every id that breaks the one-to-one mapping
type BijectionError struct {
	MissingFromSidecar []string
	MissingFromText    []string
	DuplicateInText    []string
	DuplicateInSidecar []string
}

func (e *BijectionError) Error() string {
	var parts []string
	add := func(label string, ids []string) {
		if len(ids) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", label, strings.Join(ids, ",")))
		}
	}
	add("missing from sidecar", e.MissingFromSidecar)
	add("missing from text", e.MissingFromText)
	add("duplicated in text", e.DuplicateInText)
	add("duplicated in sidecar", e.DuplicateInSidecar)
	return fmt.Sprintf("%s (%s)", ErrBijection.Error(), strings.Join(parts, "; "))
}

func (e *BijectionError) Unwrap() error {
	return ErrBijection
}

// VerifyBijection checks every id appears exactly once in each list
func VerifyBijection(textIDs, sidecarIDs []string) error {
	textCounts := counts(textIDs)
	sidecarCounts := counts(sidecarIDs)

	var out BijectionError
	for id, n := range textCounts {
		if n > 1 {
			out.DuplicateInText = append(out.DuplicateInText, id)
		}
		if sidecarCounts[id] == 0 {
			out.MissingFromSidecar = append(out.MissingFromSidecar, id)
		}
	}
	for id, n := range sidecarCounts {
		if n > 1 {
			out.DuplicateInSidecar = append(out.DuplicateInSidecar, id)
		}
		if textCounts[id] == 0 {
			out.MissingFromText = append(out.MissingFromText, id)
		}
	}

	if len(out.MissingFromSidecar)+len(out.MissingFromText)+len(out.DuplicateInText)+len(out.DuplicateInSidecar) == 0 {
		return nil
	}
	sort.Strings(out.MissingFromSidecar)
	sort.Strings(out.MissingFromText)
	sort.Strings(out.DuplicateInText)
	sort.Strings(out.DuplicateInSidecar)
	return &out
}

func counts(ids []string) map[string]int {
	m := make(map[string]int, len(ids))
	for _, id := range ids {
		m[id]++
	}
	return m
}
