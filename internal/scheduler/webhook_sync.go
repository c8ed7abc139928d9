package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"walletwatch/internal/domain"
	"walletwatch/internal/notify"
)

// syncWebhooks reconciles the provider-side registrations against the
// desired monitored wallet set. Registrations are replaced wholesale, never
// patched: new batched registrations are created first, then stale ones are
// deleted, so there is no window with no coverage. Only registrations
// pointing at our callback URL are touched.
func (s *Scheduler) syncWebhooks(ctx context.Context, wallets []string, report *TickReport) {
	live, err := s.registrar.ListWebhooks(ctx)
	if err != nil {
		s.webhookSyncFailed(ctx, "list registrations", err)
		return
	}

	var ours []domain.WebhookRegistration
	covered := map[string]bool{}
	for _, reg := range live {
		if reg.URL != s.cfg.CallbackURL {
			continue
		}
		ours = append(ours, reg)
		for _, addr := range reg.Addresses {
			covered[addr] = true
		}
	}

	if inSync(wallets, covered) {
		return
	}

	// Create replacements before deleting anything.
	for _, batch := range batchAddresses(wallets, maxAddressesPerWebhook) {
		id, err := s.registrar.CreateWebhook(ctx, s.cfg.CallbackURL, batch, nil)
		if err != nil {
			s.webhookSyncFailed(ctx, "create registration", err)
			return
		}
		report.WebhooksCreated++

		if err := s.regStore.Save(ctx, domain.WebhookRegistration{
			ID:        id,
			URL:       s.cfg.CallbackURL,
			Addresses: batch,
		}); err != nil {
			s.logger.Error("registration save failed",
				slog.String("webhook_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, reg := range ours {
		if err := s.registrar.DeleteWebhook(ctx, reg.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.webhookSyncFailed(ctx, "delete registration", err)
			continue
		}
		report.WebhooksDeleted++

		if err := s.regStore.Delete(ctx, reg.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("registration delete failed",
				slog.String("webhook_id", reg.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("webhook registrations replaced",
		slog.Int("wallets", len(wallets)),
		slog.Int("created", report.WebhooksCreated),
		slog.Int("deleted", report.WebhooksDeleted),
	)
}

func (s *Scheduler) webhookSyncFailed(ctx context.Context, step string, err error) {
	s.logger.Error("webhook sync failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	if s.alerter != nil {
		_ = s.alerter.Notify(ctx, notify.EventWebhookSync,
			"Webhook sync failed", step+": "+err.Error())
	}
}

// inSync reports whether the covered address set exactly matches wallets.
func inSync(wallets []string, covered map[string]bool) bool {
	if len(wallets) != len(covered) {
		return false
	}
	for _, w := range wallets {
		if !covered[w] {
			return false
		}
	}
	return true
}

// batchAddresses splits wallets into sorted fixed-size batches so repeated
// syncs of the same set produce identical registrations.
func batchAddresses(wallets []string, size int) [][]string {
	sorted := append([]string(nil), wallets...)
	sort.Strings(sorted)

	var batches [][]string
	for len(sorted) > 0 {
		n := size
		if n > len(sorted) {
			n = len(sorted)
		}
		batches = append(batches, sorted[:n])
		sorted = sorted[n:]
	}
	return batches
}
