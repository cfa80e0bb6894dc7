package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bishoku/autopilot-codex/internal/fsutil"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// ExportDir is where artifacts are written, relative to the project path
const ExportDir = ".autopilot/sessions"

// ExportManifest lists the files written by Export
type ExportManifest struct {
	SessionID   string            `json:"sessionId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Stage       *protocol.Stage   `json:"currentStage"`
	Files       []fsutil.Artifact `json:"files"`
}

// ExportResult describes a completed export
type ExportResult struct {
	Dir      string          `json:"dir"`
	Manifest *ExportManifest `json:"manifest"`
}

// Export renders the session's artifacts as markdown into the project
// directory, one file per stage that has content, plus manifest.json.
// Existing files are replaced atomically.
func (s *Service) Export(ctx context.Context, sessionID string) (*ExportResult, error) {
	sess, err := s.requireSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	docs, err := s.render(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(filepath.FromSlash(ExportDir), sessionID)
	manifest := &ExportManifest{
		SessionID:   sessionID,
		GeneratedAt: s.now(),
		Stage:       sess.CurrentStage,
		Files:       []fsutil.Artifact{},
	}
	for _, doc := range docs {
		art, err := fsutil.WriteArtifact(sess.ProjectPath, filepath.Join(dir, doc.name), []byte(doc.body))
		if err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", doc.name, err)
		}
		manifest.Files = append(manifest.Files, art)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if _, err := fsutil.WriteArtifact(sess.ProjectPath, filepath.Join(dir, "manifest.json"), append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to export manifest: %w", err)
	}

	s.logger.Info("session exported", "session_id", sessionID, "dir", dir, "files", len(manifest.Files))
	return &ExportResult{Dir: filepath.Join(sess.ProjectPath, dir), Manifest: manifest}, nil
}

type document struct {
	name string
	body string
}

func (s *Service) render(ctx context.Context, sessionID string) ([]document, error) {
	var docs []document

	intent, err := s.db.GetIntent(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if intent != nil {
		docs = append(docs, document{"intent.md", "# Intent\n\n" + strings.TrimSpace(intent.Text) + "\n"})
	}

	reqs, err := s.db.ListRequirements(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(reqs) > 0 {
		var b strings.Builder
		b.WriteString("# Requirements\n")
		for _, r := range reqs {
			fmt.Fprintf(&b, "\n## %s: %s\n\n", r.ReqID, r.ShortName)
			fmt.Fprintf(&b, "- Current: %s\n- Desired: %s\n\n%s\n", r.CurrentState, r.DesiredState, r.Explanation)
		}
		docs = append(docs, document{"requirements.md", b.String()})
	}

	criteria, err := s.db.ListCriteria(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(criteria) > 0 {
		var b strings.Builder
		b.WriteString("# Acceptance Criteria\n")
		for _, c := range criteria {
			fmt.Fprintf(&b, "\n## %s (%s)\n\n```gherkin\n%s\n```\n", c.AcID, c.RequirementReqID, c.Rendered)
		}
		docs = append(docs, document{"acceptance-criteria.md", b.String()})
	}

	ia, err := s.db.GetImpact(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ia != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "# Impact Analysis\n\nLevel: %s\n\n%s\n", ia.ImpactLevel, ia.Explanation)
		writeList(&b, "Affected modules", ia.AffectedModules)
		writeList(&b, "Risks", ia.Risks)
		writeList(&b, "Assumptions", ia.Assumptions)
		docs = append(docs, document{"impact-analysis.md", b.String()})
	}

	tasks, err := s.db.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(tasks) > 0 {
		var b strings.Builder
		b.WriteString("# Tasks\n")
		for _, t := range tasks {
			fmt.Fprintf(&b, "\n## %s: %s [%s]\n\n%s\n", t.TaskID, t.ShortName, t.Status, t.Description)
			if len(t.RelatedRequirementIDs) > 0 {
				fmt.Fprintf(&b, "\nRequirements: %s\n", strings.Join(t.RelatedRequirementIDs, ", "))
			}
			if t.ResultSummary != nil {
				fmt.Fprintf(&b, "\nResult: %s\n", *t.ResultSummary)
			}
			if t.LastError != nil {
				fmt.Fprintf(&b, "\nLast error: %s\n", *t.LastError)
			}
		}
		docs = append(docs, document{"tasks.md", b.String()})
	}

	return docs, nil
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
