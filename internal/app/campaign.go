package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"chatblast/internal/config"
	"chatblast/internal/contacts"
	"chatblast/internal/dispatch"
	"chatblast/internal/ledger"
	"chatblast/internal/maintenance"
	"chatblast/internal/messaging"
	"chatblast/internal/prompt"
	"chatblast/internal/session"
	logx "chatblast/pkg/logx"
)

// recentChats is how many conversations the "from chat" choice lists.
const recentChats = 5

// Send runs one interactive campaign: load and prepare contacts, pair the
// workers, ask the operator what to send and to whom, then dispatch.
//
// Errors before dispatch starts are startup errors. Once dispatch runs the
// summary is always returned; the error is non-nil only when ctx ended.
func (a *App) Send(ctx context.Context) (dispatch.Summary, error) {
	cfg := a.cfgm.Get()
	p := prompt.New(a.opts.In, a.opts.Out)

	store := contacts.NewStore(cfg.Contacts.Path, mapColumns(cfg))
	table, err := store.Prepare()
	if err != nil {
		return dispatch.Summary{}, err
	}
	a.log.Info("contacts loaded", logx.String("path", store.Path()), logx.Int("rows", len(table.Contacts)))

	pool := session.NewPool(a.client, mapSessionConfig(cfg), a.log)
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := pool.Close(cctx); err != nil {
			a.log.Warn("close sessions", logx.Err(err))
		}
	}()
	workers, err := pool.Init(ctx, cfg.Dispatch.Workers)
	if err != nil {
		return dispatch.Summary{}, err
	}
	_, _ = a.sd.Ready(fmt.Sprintf("paired %d sessions", len(workers)))

	sweep, err := maintenance.New(mapMaintenanceConfig(cfg), pool, a.log)
	if err != nil {
		return dispatch.Summary{}, err
	}
	if err := sweep.Start(ctx); err != nil {
		return dispatch.Summary{}, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = sweep.Stop(sctx)
	}()

	list, err := a.selectContacts(p, table.Contacts)
	if err != nil {
		return dispatch.Summary{}, err
	}
	batches, err := contacts.Split(list, cfg.Contacts.BatchSize)
	if err != nil {
		return dispatch.Summary{}, err
	}
	p.Say("Total Chunks %d", len(batches))

	msg, err := a.buildMessage(ctx, cfg, p, workers[0])
	if err != nil {
		return dispatch.Summary{}, err
	}
	a.log.Info("message ready", logx.String("msg", msg.Summary()), logx.Bool("test", msg.IsTest))

	led := ledger.New(mapLedgerConfig(cfg), store,
		ledger.WithLogger(a.log),
		ledger.WithAudit(a.store, a.runID),
	)
	defer func() {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := led.Close(lctx); err != nil {
			a.log.Error("flush contact store", logx.Err(err))
		}
	}()

	sched, err := dispatch.New(mapDispatchConfig(cfg), led, pool,
		dispatch.WithBus(a.bus),
		dispatch.WithLogger(a.log),
	)
	if err != nil {
		return dispatch.Summary{}, err
	}

	a.mu.Lock()
	a.sched, a.sweep = sched, sweep
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.sched, a.sweep = nil, nil
		a.mu.Unlock()
	}()

	settled := a.watchRun()

	sum, err := sched.Run(ctx, workers, batches, msg)
	settled(5 * time.Second)
	a.reportAudit(ctx)
	return sum, err
}

// watchRun attaches the run observers before dispatch starts so none of
// them misses an event. The returned func waits, up to max, for them to
// consume EventDone.
func (a *App) watchRun() func(max time.Duration) {
	sup := a.sup
	if sup == nil {
		return func(time.Duration) {}
	}
	var wg sync.WaitGroup
	observe := func(name string, fn func(context.Context)) {
		wg.Add(1)
		sup.Go0(name, func(c context.Context) {
			defer wg.Done()
			fn(c)
		})
	}
	observe("run.progress", dispatch.NewProgress(a.log).Watch(a.bus))
	if a.notif.Enabled() {
		observe("run.notify", a.notif.WatchRuns(a.bus, a.runID))
	}
	if a.sd.Enabled() {
		observe("run.systemd", newStatusReporter(a.sd).Watch(a.bus))
	}

	return func(max time.Duration) {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		t := time.NewTimer(max)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			a.log.Warn("run observers still busy", logx.Duration("waited", max))
		}
	}
}

func (a *App) selectContacts(p *prompt.Prompter, all []*contacts.Contact) ([]*contacts.Contact, error) {
	org, err := p.Organization()
	if err != nil {
		return nil, err
	}
	filtered := contacts.Filter(all, org, 0)
	n, err := p.Count(len(filtered))
	if err != nil {
		return nil, err
	}
	list := filtered[:min(n, len(filtered))]
	p.Say("Sending message to %d", len(list))
	return list, nil
}

func (a *App) buildMessage(ctx context.Context, cfg *config.Config, p *prompt.Prompter, first *session.Worker) (messaging.Message, error) {
	isTest, err := p.IsTest()
	if err != nil {
		return messaging.Message{}, err
	}
	choice, err := p.MessageType()
	if err != nil {
		return messaging.Message{}, err
	}
	p.Say("You chose: %s", choice)

	var msg messaging.Message
	switch choice {
	case prompt.ChoiceText:
		body, err := readBody(cfg, isTest)
		if err != nil {
			return msg, err
		}
		msg = messaging.TextMessage(body)
	case prompt.ChoiceMedia:
		body, err := readBody(cfg, isTest)
		if err != nil {
			return msg, err
		}
		media, err := messaging.LoadMedia(cfg.Messaging.MediaPath)
		if err != nil {
			return msg, fmt.Errorf("%w: messaging.media_path: %w", contacts.ErrInvalidConfiguration, err)
		}
		msg = messaging.MediaMessage(media, body)
	case prompt.ChoiceFromChat:
		msg, err = fromChat(ctx, p, first)
		if err != nil {
			return msg, err
		}
	}
	msg.IsTest = isTest
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("%w: %w", contacts.ErrInvalidConfiguration, err)
	}
	return msg, nil
}

// readBody loads the message text; test runs use test_body_path when set.
func readBody(cfg *config.Config, isTest bool) (string, error) {
	path := cfg.Messaging.BodyPath
	if isTest && strings.TrimSpace(cfg.Messaging.TestBodyPath) != "" {
		path = cfg.Messaging.TestBodyPath
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: message body: %w", contacts.ErrInvalidConfiguration, err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func fromChat(ctx context.Context, p *prompt.Prompter, w *session.Worker) (messaging.Message, error) {
	sess := w.Session()
	convs, err := sess.RecentConversations(ctx, recentChats)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("list chats on %s: %w", w, err)
	}
	conv, err := p.ChooseConversation(convs)
	if err != nil {
		return messaging.Message{}, err
	}
	msg, ok, err := sess.LastMessage(ctx, conv.ID)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("read last message of %q: %w", conv.Name, err)
	}
	if !ok {
		return messaging.Message{}, fmt.Errorf("%w: chat %q has no messages", prompt.ErrInvalidChoice, conv.Name)
	}
	msg.Source = conv.ID
	return msg, nil
}

// reportAudit logs what the audit store recorded for this run.
func (a *App) reportAudit(ctx context.Context) {
	if a.store == nil {
		return
	}
	tot, err := a.store.Outcomes(context.WithoutCancel(ctx), a.runID)
	if err != nil {
		a.log.Warn("read audit totals", logx.Err(err))
		return
	}
	a.log.Info("audit totals", logx.Int("sent", tot.Sent), logx.Int("failed", tot.Failed))
}

// ExportChats pairs worker 1 and writes every conversation it lists to path
// as chatId,name rows. It returns the number of rows written.
func (a *App) ExportChats(ctx context.Context, path string, limit int) (int, error) {
	cfg := a.cfgm.Get()
	pool := session.NewPool(a.client, mapSessionConfig(cfg), a.log)
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = pool.Close(cctx)
	}()

	w, err := pool.Acquire(ctx, 1)
	if err != nil {
		return 0, err
	}
	convs, err := w.Session().RecentConversations(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list chats: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(f)
	_ = cw.Write([]string{"chatId", "name"})
	for _, c := range convs {
		name := c.Name
		if name == "" {
			name = "Unknown"
		}
		_ = cw.Write([]string{c.ID, name})
	}
	cw.Flush()
	if err := errors.Join(cw.Error(), f.Close()); err != nil {
		return 0, err
	}
	a.log.Info("chats exported", logx.String("path", path), logx.Int("count", len(convs)))
	return len(convs), nil
}
