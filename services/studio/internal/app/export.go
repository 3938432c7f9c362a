package app

import (
	"context"
	"strings"

	"ideaforge/internal/util"
	"ideaforge/pkg/domain"
	"ideaforge/pkg/storage"
)

// ExportDocument uploads a completed document as Markdown and returns a
// time-limited download URL.
func (a *App) ExportDocument(ctx context.Context, userID, documentID string) (string, error) {
	if a.objects == nil {
		return "", ErrExportDisabled
	}
	doc, err := a.GetDocument(ctx, userID, documentID)
	if err != nil {
		return "", err
	}
	if doc.Status != domain.DocumentCompleted || strings.TrimSpace(doc.Content) == "" {
		return "", ErrDocumentNotReady
	}
	key := storage.DocumentKey(doc)
	if err := a.objects.Put(ctx, key, storage.RenderMarkdown(doc), storage.MarkdownContentType); err != nil {
		return "", persistErr("upload export", err)
	}
	url, err := a.objects.PresignGet(ctx, key, a.exportExpiry)
	if err != nil {
		return "", persistErr("presign export", err)
	}
	util.LoggerFromContext(ctx).Info("document exported", "document_id", doc.ID, "key", key)
	return url, nil
}
