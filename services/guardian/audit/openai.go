// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
)

const auditorSystemPrompt = "You are a strict code reviewer guarding against destructive edits. " +
	"Reply with PASSED on the first line when the change is acceptable."

// OpenAIAuditor asks an OpenAI-compatible chat endpoint to review files.
//
// # Description
//
// File contents are inlined into the user message. The audit passes iff
// the reply starts with PASSED. The API key is held in a memguard enclave
// and only decrypted while a client is built.
type OpenAIAuditor struct {
	model   string
	baseURL string
	root    string
	key     *memguard.Enclave

	// maxFileBytes truncates each inlined file.
	maxFileBytes int
}

// OpenAIOptions configures an OpenAIAuditor.
type OpenAIOptions struct {
	BaseURL string
	Model   string
	APIKey  string
	Root    string
}

// NewOpenAIAuditor creates an auditor. The APIKey string is copied into an
// enclave; an empty key makes the auditor unavailable.
func NewOpenAIAuditor(opts OpenAIOptions) *OpenAIAuditor {
	a := &OpenAIAuditor{
		model:        opts.Model,
		baseURL:      opts.BaseURL,
		root:         opts.Root,
		maxFileBytes: 32 * 1024,
	}
	if a.model == "" {
		a.model = openai.GPT4oMini
	}
	if opts.APIKey != "" {
		a.key = memguard.NewEnclave([]byte(opts.APIKey))
	}
	return a
}

// NewOpenAIAuditorFromEnv reads the API key from the named variable.
func NewOpenAIAuditorFromEnv(baseURL, model, keyEnv, root string) *OpenAIAuditor {
	return NewOpenAIAuditor(OpenAIOptions{
		BaseURL: baseURL,
		Model:   model,
		APIKey:  os.Getenv(keyEnv),
		Root:    root,
	})
}

// Name implements Auditor.
func (a *OpenAIAuditor) Name() string { return "openai:" + a.model }

// Available implements Auditor.
func (a *OpenAIAuditor) Available(ctx context.Context) error {
	if a.key == nil {
		return fmt.Errorf("%w: no API key", ErrAuditorUnavailable)
	}
	return nil
}

func (a *OpenAIAuditor) client() (*openai.Client, error) {
	buf, err := a.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening API key enclave: %w", err)
	}
	// buf.String aliases locked memory that Destroy frees; the client keeps
	// the token for the life of the request, so it gets its own copy.
	token := string(append([]byte(nil), buf.Bytes()...))
	buf.Destroy()

	cfg := openai.DefaultConfig(token)
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

// Audit implements Auditor.
func (a *OpenAIAuditor) Audit(ctx context.Context, files []string, prompt string) (AuditResult, error) {
	if a.key == nil {
		return AuditResult{}, fmt.Errorf("%w: no API key", ErrAuditorUnavailable)
	}
	client, err := a.client()
	if err != nil {
		return AuditResult{}, err
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: auditorSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: a.userMessage(files, prompt)},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return AuditResult{}, ctx.Err()
		}
		return AuditResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return AuditResult{}, errors.New("chat completion returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	return AuditResult{
		Passed: strings.HasPrefix(strings.ToUpper(reply), "PASSED"),
		Output: reply,
	}, nil
}

func (a *OpenAIAuditor) userMessage(files []string, prompt string) string {
	var b strings.Builder
	b.WriteString(prompt)
	for _, f := range files {
		path := f
		if a.root != "" && !strings.HasPrefix(f, "/") {
			path = a.root + "/" + f
		}
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(&b, "\n\n--- %s (unreadable: %v)", f, err)
			continue
		}
		if len(data) > a.maxFileBytes {
			data = append(data[:a.maxFileBytes:a.maxFileBytes], []byte("\n... [truncated]")...)
		}
		fmt.Fprintf(&b, "\n\n--- %s\n%s", f, data)
	}
	return b.String()
}
