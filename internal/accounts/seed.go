// Package accounts provisions accounts from a YAML seed file.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"torquedash/internal/model"
	"torquedash/internal/store"
)

type File struct {
	Accounts []Entry `yaml:"accounts"`
}

type Entry struct {
	Email        string   `yaml:"email"`
	LiveOnlyMode bool     `yaml:"live_only_mode"`
	ForwardURLs  []string `yaml:"forward_urls"`
	ShareID      string   `yaml:"share_id"`
}

type Summary struct {
	Created int
	Updated int
}

func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode accounts: %w", err)
	}
	for i, e := range f.Accounts {
		if strings.TrimSpace(e.Email) == "" {
			return File{}, fmt.Errorf("accounts[%d]: email is required", i)
		}
	}
	return f, nil
}

// Import creates missing accounts and overwrites the settings of existing
// ones, matched by email.
func Import(ctx context.Context, st store.Store, f File) (Summary, error) {
	var sum Summary
	now := time.Now().UnixMilli()
	for _, e := range f.Accounts {
		_, created, err := Upsert(ctx, st, e, now)
		if err != nil {
			return sum, err
		}
		if created {
			sum.Created++
		} else {
			sum.Updated++
		}
	}
	return sum, nil
}

func Upsert(ctx context.Context, st store.Store, e Entry, nowMillis int64) (model.Account, bool, error) {
	var shareID *string
	if e.ShareID != "" {
		id := e.ShareID
		shareID = &id
	}

	acc, err := st.AccountByEmail(ctx, e.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		acc, err = st.CreateAccount(ctx, model.Account{
			Email:        e.Email,
			LiveOnlyMode: e.LiveOnlyMode,
			ForwardURLs:  e.ForwardURLs,
			ShareID:      shareID,
			CreatedAt:    nowMillis,
			UpdatedAt:    nowMillis,
		})
		if err != nil {
			return model.Account{}, false, fmt.Errorf("create %s: %w", e.Email, err)
		}
		return acc, true, nil
	case err != nil:
		return model.Account{}, false, fmt.Errorf("lookup %s: %w", e.Email, err)
	}

	acc.LiveOnlyMode = e.LiveOnlyMode
	acc.ForwardURLs = e.ForwardURLs
	if shareID != nil {
		acc.ShareID = shareID
	}
	acc.UpdatedAt = nowMillis
	if err := st.UpdateAccount(ctx, acc); err != nil {
		return model.Account{}, false, fmt.Errorf("update %s: %w", e.Email, err)
	}
	return acc, false, nil
}
