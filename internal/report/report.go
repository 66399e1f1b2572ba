// Package report builds the exported verification package: the session
// report, its canonical hash, the document integrity hash and the
// one-time verification token that binds them together.
package report

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/willchan-117/human-verifier/internal/session"
)

// Version identifies the export format. It is embedded in every report
// so a verifier can tell old artifacts apart.
const Version = "1.2.0"

// MissingDocumentHash is recorded when the document content could not be
// read at export time. Verifiers treat it as a warning, not a failure.
const MissingDocumentHash = "N/A - Failed to compute"

// Summary aggregates the archive for the report header.
type Summary struct {
	TotalSessions         int    `json:"totalSessions"`
	TotalActiveTime       string `json:"totalActiveTime"`
	TotalCharactersTyped  int    `json:"totalCharactersTyped"`
	DocumentIntegrityHash string `json:"documentIntegrityHash"`
	ExportTimestamp       string `json:"exportTimestamp"`
}

// SessionDetail is the per-session projection included in the report.
type SessionDetail struct {
	SessionNumber       int                     `json:"sessionNumber"`
	StartTime           string                  `json:"startTime"`
	StartTimeFormatted  string                  `json:"startTimeFormatted"`
	EndTime             string                  `json:"endTime"`
	EndTimeFormatted    string                  `json:"endTimeFormatted"`
	ActiveWritingTime   string                  `json:"activeWritingTime"`
	CharactersTyped     int                     `json:"charactersTyped"`
	CharactersPerMinute int                     `json:"charactersPerMinute"`
	HumanScore          int                     `json:"humanScore"`
	Flags               session.Flags           `json:"flags"`
	Edits               []session.EditEntry     `json:"edits"`
	Penalties           []session.PenaltyRecord `json:"penalties"`
}

// Report is the document the report hash commits to.
type Report struct {
	Summary         Summary         `json:"summary"`
	Sessions        []SessionDetail `json:"sessions"`
	ExportedAt      string          `json:"exportedAt"`
	ExporterVersion string          `json:"exporterVersion"`
}

// Package is the complete export artifact. Token, report hash and
// document hash are verified as three independent checks.
type Package struct {
	Token        string          `json:"token"`
	Hash         string          `json:"hash"`
	Report       json.RawMessage `json:"report"`
	DocumentHash string          `json:"documentHash"`
}

// GenerateToken returns a fresh verification token of the form
// HV-XXXXXXXX where X is an upper-case hex digit.
func GenerateToken() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("report: token randomness: %w", err)
	}
	return "HV-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// Builder assembles verification packages from an archive.
type Builder struct {
	version string
	now     func() time.Time
}

// NewBuilder returns a Builder stamping reports with the current export
// format version.
func NewBuilder() *Builder {
	return &Builder{version: Version, now: time.Now}
}

// Build assembles the report for the archive, hashes its canonical form
// and binds it to the given token and document hash. An empty documentHash
// is recorded as MissingDocumentHash so the artifact stays verifiable.
func (b *Builder) Build(archive *session.Archive, token, documentHash string) (*Package, error) {
	if archive == nil || archive.Len() == 0 {
		return nil, fmt.Errorf("report: nothing to export")
	}
	if documentHash == "" {
		documentHash = MissingDocumentHash
	}

	exportedAt := b.now().UTC().Format(time.RFC3339)
	rep := Report{
		Summary: Summary{
			TotalSessions:         archive.Len(),
			TotalActiveTime:       FormatDuration(archive.TotalActiveTime()),
			TotalCharactersTyped:  archive.TotalCharactersTyped(),
			DocumentIntegrityHash: documentHash,
			ExportTimestamp:       exportedAt,
		},
		Sessions:        make([]SessionDetail, 0, archive.Len()),
		ExportedAt:      exportedAt,
		ExporterVersion: b.version,
	}
	for i, s := range archive.Sessions {
		rep.Sessions = append(rep.Sessions, detail(i+1, s))
	}

	raw, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("report: encode: %w", err)
	}
	hash, err := HashReport(raw)
	if err != nil {
		return nil, err
	}

	return &Package{
		Token:        token,
		Hash:         hash,
		Report:       raw,
		DocumentHash: documentHash,
	}, nil
}

// HashReport returns the hex SHA-256 of the canonical form of the given
// report JSON. Key order and whitespace in raw do not affect the result.
func HashReport(raw json.RawMessage) (string, error) {
	canonical, err := CanonicalJSON(raw)
	if err != nil {
		return "", fmt.Errorf("report: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// WriteFile writes the package as indented JSON to path.
func (p *Package) WriteFile(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode package: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("report: write package: %w", err)
	}
	return nil
}

func detail(number int, s *session.Session) SessionDetail {
	duration := s.EndTime.Sub(s.StartTime)
	cpm := 0
	if minutes := duration.Minutes(); minutes > 0 {
		cpm = int(math.Round(float64(s.CharactersTyped) / minutes))
	}
	return SessionDetail{
		SessionNumber:       number,
		StartTime:           s.StartTime.UTC().Format(time.RFC3339),
		StartTimeFormatted:  s.StartTime.Local().Format("Jan 2, 2006 3:04:05 PM"),
		EndTime:             s.EndTime.UTC().Format(time.RFC3339),
		EndTimeFormatted:    s.EndTime.Local().Format("Jan 2, 2006 3:04:05 PM"),
		ActiveWritingTime:   FormatDuration(duration),
		CharactersTyped:     s.CharactersTyped,
		CharactersPerMinute: cpm,
		HumanScore:          s.HumanScore,
		Flags:               s.Flags,
		Edits:               s.Edits,
		Penalties:           s.Penalties,
	}
}

// FormatDuration renders a duration as "X min Y sec".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d min %d sec", total/60, total%60)
}
