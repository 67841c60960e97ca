package main

import (
	"database/sql"
	"fmt"

	"github.com/hazyhaar/promptify/history"
	"github.com/hazyhaar/promptify/internal/dbopen"
	"github.com/hazyhaar/promptify/relay"
	"github.com/hazyhaar/promptify/settings"
)

// stores is the database and the two tables living in it.
type stores struct {
	db       *sql.DB
	settings *settings.SQLStore
	history  *history.Log
}

func (a *app) openStores() (*stores, error) {
	db, err := dbopen.Open(a.cfg.Store.Path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("promptify: open store: %w", err)
	}
	st, err := settings.NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	hist, err := history.Open(db, 256, history.WithLogger(a.logger))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &stores{db: db, settings: st, history: hist}, nil
}

func (s *stores) Close() error {
	s.history.Close()
	return s.db.Close()
}

// newRelay wires the refine handler to the stored settings.
func (a *app) newRelay(st settings.Store) *relay.Relay {
	r := relay.New(relay.WithTimeout(a.cfg.Relay.Timeout), relay.WithLogger(a.logger))
	r.Handle(relay.TypeRefinePrompt, relay.RefineHandler(relay.RefineConfig{
		Settings: st,
		Timeout:  a.cfg.Relay.Timeout,
		Logger:   a.logger,
	}))
	return r
}
