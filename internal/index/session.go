package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/attractor-desk/ragcore/internal/ragerr"
	"github.com/attractor-desk/ragcore/internal/store"
)

// IndexSessionPDF ingests a single uploaded PDF for an ephemeral
// session: the file is copied under the per-session directory,
// converted, and indexed with the session link attached. The saved copy
// is owned by the lifecycle layer, which deletes it during stale
// cleanup.
func (ix *Indexer) IndexSessionPDF(ctx context.Context, req SessionRequest) (SessionResult, error) {
	if ix.converter == nil {
		return SessionResult{}, ragerr.New(ragerr.KindNotConfigured,
			"session indexing requires a PDF converter")
	}
	if req.SessionID == "" {
		return SessionResult{}, ragerr.New(ragerr.KindNotConfigured,
			"session indexing requires a session id")
	}

	info, err := os.Stat(req.PDFPath)
	if err != nil || info.IsDir() {
		return SessionResult{Success: false, ErrorMessage: "File not found"}, nil
	}

	savedPath, err := ix.saveSessionPDF(req.SessionID, req.PDFPath)
	if err != nil {
		return SessionResult{Success: false, ErrorMessage: err.Error()}, nil
	}

	convCtx, cancel := context.WithTimeout(ctx, ix.conversionTimeout)
	defer cancel()
	conversion, err := ix.converter.Convert(convCtx, savedPath)
	if err != nil {
		return SessionResult{Success: false, SavedPath: savedPath, ErrorMessage: err.Error()}, nil
	}
	if !conversion.Success {
		return SessionResult{Success: false, SavedPath: savedPath, ErrorMessage: conversion.ErrorMessage}, nil
	}

	sourceName := conversion.SourceFilename
	if sourceName == "" {
		sourceName = stem(req.PDFPath)
	}

	result, err := ix.IndexDocument(ctx, Request{
		WorkspaceID:       req.WorkspaceID,
		SessionID:         req.SessionID,
		SourceType:        store.SourceTypeChatPDF,
		SourceName:        sourceName,
		SourcePath:        savedPath,
		FileSize:          info.Size(),
		Content:           conversion.Markdown,
		ChunkSizeChars:    req.ChunkSizeChars,
		ChunkOverlapChars: req.ChunkOverlapChars,
		EmbeddingModel:    req.EmbeddingModel,
		EmbeddingsEnabled: req.EmbeddingsEnabled,
	})
	if err != nil {
		return SessionResult{}, err
	}
	if !result.Success {
		return SessionResult{Success: false, SavedPath: savedPath, ErrorMessage: result.ErrorMessage}, nil
	}
	return SessionResult{Success: true, DocumentID: result.DocumentID, SavedPath: savedPath}, nil
}

// saveSessionPDF copies the upload under {root}/{session}/{stem}-{uuid}.pdf.
func (ix *Indexer) saveSessionPDF(sessionID, sourcePath string) (string, error) {
	if ix.sessionRoot == "" {
		return "", ragerr.New(ragerr.KindNotConfigured, "session storage root not configured")
	}
	sessionDir := filepath.Join(ix.sessionRoot, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}

	suffix := strings.ToLower(filepath.Ext(sourcePath))
	if suffix == "" {
		suffix = ".pdf"
	}
	filename := fmt.Sprintf("%s-%s%s", stem(sourcePath), uuid.New().String(), suffix)
	destination := filepath.Join(sessionDir, filename)

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := os.WriteFile(destination, data, 0o644); err != nil {
		return "", fmt.Errorf("write session copy: %w", err)
	}
	return destination, nil
}
