// Package detector implements the change-detection pipeline: normalize the
// fetched body per the watcher's comparison mode, hash it, classify the run
// against the stored snapshot, and render a unified diff plus a structural
// summary for JSON bodies.
//
// The detector is pure: it reads the previous snapshot and the new body and
// produces a change log plus the snapshot to persist.  All storage writes
// happen in the executor through store.ApplyDetection.
package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/GabriWar/vigilant/model"
)

// Result is the outcome of one detection run.  Snapshot is nil when the
// content was unchanged; the store then only refreshes the snapshot's
// updated_at column.
type Result struct {
	Log      *model.ChangeLog
	Snapshot *model.Snapshot
}

// Detect classifies the new body against the previous snapshot (nil on the
// first observation) under the given comparison mode.
//
// Mode semantics:
//   - hash: compare SHA-256 of the raw bytes, diff on change;
//   - content_aware: compare after whitespace normalization, so markup
//     reflows do not count as changes;
//   - disabled: content is snapshotted and classified but no diff or
//     structural summary is rendered.
func Detect(mode model.ComparisonMode, prev *model.Snapshot, body []byte, contentType string) Result {
	normalized := Normalize(mode, body)
	hash := HashContent(normalized)
	size := int64(len(body))

	log := &model.ChangeLog{
		NewHash: hash,
		NewSize: &size,
	}

	if prev == nil {
		log.ChangeType = model.ChangeNew
		log.NewContent = body
		return Result{Log: log, Snapshot: newSnapshot(body, normalized, hash, contentType)}
	}

	log.OldHash = prev.ContentHash
	oldSize := prev.ContentSize
	log.OldSize = &oldSize

	// The stored hash was computed under the comparison mode in force at
	// write time; recompute it from the stored content so a mode change
	// cannot misclassify normalize-equal bodies.
	if hash == HashContent(Normalize(mode, prev.Content)) {
		log.ChangeType = model.ChangeUnchanged
		return Result{Log: log}
	}

	log.ChangeType = model.ChangeModified
	log.OldContent = prev.Content
	log.NewContent = body
	if mode != model.CompareDisabled {
		if utf8.Valid(prev.Content) && utf8.Valid(body) {
			log.Diff = UnifiedDiff(prev.Content, body)
		}
		log.StructuralSummary = StructuralSummary(prev.Content, body)
	}
	return Result{Log: log, Snapshot: newSnapshot(body, normalized, hash, contentType)}
}

func newSnapshot(body, normalized []byte, hash, contentType string) *model.Snapshot {
	return &model.Snapshot{
		Content:     body,
		ContentHash: hash,
		ContentSize: int64(len(body)),
		ContentType: contentType,
	}
}

// HashContent returns the hex-encoded SHA-256 of b.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Normalize prepares a body for comparison.  Only content_aware mode
// transforms the bytes: runs of Unicode whitespace collapse to a single
// space and the result is trimmed, so formatting-only edits hash equal.
func Normalize(mode model.ComparisonMode, body []byte) []byte {
	if mode != model.CompareContentAware {
		return body
	}
	var (
		b       strings.Builder
		inSpace bool
	)
	b.Grow(len(body))
	for _, r := range string(body) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return []byte(b.String())
}

// UnifiedDiff renders a unified diff between the previous and current
// content with three lines of context.
func UnifiedDiff(old, new []byte) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(old)),
		B:        difflib.SplitLines(string(new)),
		FromFile: "old",
		ToFile:   "new",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
