package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/moco"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
	"github.com/genomiq/lead-engine/internal/queue"
	"github.com/genomiq/lead-engine/internal/store"
)

// SyncWorker pushes customers, offers and invoices into the finance
// system. Every action is idempotent against the persisted Moco ids: a
// replayed job that finds its id already recorded does nothing.
type SyncWorker struct {
	store *store.Store
	moco  *moco.Client
}

// NewSyncWorker wires the finance sync path.
func NewSyncWorker(st *store.Store, client *moco.Client) *SyncWorker {
	return &SyncWorker{store: st, moco: client}
}

// Handle processes one moco_sync job.
func (w *SyncWorker) Handle(ctx context.Context, job *queue.Job) error {
	var p queue.SyncJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "decode sync job")
	}

	switch p.Action {
	case "create_customer":
		return w.createCustomer(ctx, p)
	case "create_offer":
		return w.createOffer(ctx, p)
	case "create_invoice":
		return w.createInvoice(ctx, p)
	default:
		return apperr.New(apperr.CodeValidation, "unknown sync action %q", p.Action)
	}
}

func (w *SyncWorker) createCustomer(ctx context.Context, p queue.SyncJobPayload) error {
	lead, err := w.store.GetLead(ctx, p.LeadID)
	if err != nil {
		return err
	}
	if lead.OrganizationID == nil {
		return apperr.New(apperr.CodeValidation, "lead %s has no organization to sync", lead.ID)
	}
	org, err := w.store.GetOrganization(ctx, *lead.OrganizationID)
	if err != nil {
		return err
	}
	if org.MocoCustomerID != nil {
		logger.Debug("moco customer already synced", "organization_id", org.ID.String())
		return nil
	}

	customer, err := w.moco.CreateCustomer(ctx, org.Name, org.CountryCode, lead.Email)
	if err != nil {
		return err
	}
	if err := w.store.SetOrganizationMocoID(ctx, org.ID, strconv.FormatInt(customer.ID, 10)); err != nil {
		return err
	}
	logger.Info("moco customer created", "organization_id", org.ID.String(), "moco_id", fmt.Sprint(customer.ID))
	return nil
}

func (w *SyncWorker) createOffer(ctx context.Context, p queue.SyncJobPayload) error {
	deal, err := w.store.GetDeal(ctx, p.DealID)
	if err != nil {
		return err
	}
	if deal.MocoOfferID != nil {
		logger.Debug("moco offer already synced", "deal_id", deal.ID.String())
		return nil
	}

	customerID, err := w.customerIDFor(ctx, deal.LeadID)
	if err != nil {
		return err
	}

	value := 0.0
	if deal.Value != nil {
		value = *deal.Value
	}
	offer, err := w.moco.CreateOffer(ctx, customerID, deal.Name, value, deal.Currency, []moco.OfferItem{
		{Title: deal.Name, Quantity: 1, Unit: "service", Price: value},
	})
	if err != nil {
		return err
	}

	offerID := strconv.FormatInt(offer.ID, 10)
	if err := w.store.SetDealMocoIDs(ctx, deal.ID, &offerID, nil); err != nil {
		return err
	}
	logger.Info("moco offer created", "deal_id", deal.ID.String(), "offer_id", offerID)
	return nil
}

func (w *SyncWorker) createInvoice(ctx context.Context, p queue.SyncJobPayload) error {
	deal, err := w.store.GetDeal(ctx, p.DealID)
	if err != nil {
		return err
	}
	if deal.MocoInvoiceID != nil {
		logger.Debug("moco invoice already synced", "deal_id", deal.ID.String())
		return nil
	}
	if deal.MocoOfferID == nil {
		return apperr.New(apperr.CodeValidation, "deal %s has no offer to invoice", deal.ID)
	}
	offerID, err := strconv.ParseInt(*deal.MocoOfferID, 10, 64)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvariantViolation, err, "malformed moco offer id on deal %s", deal.ID)
	}

	invoice, err := w.moco.CreateInvoiceFromOffer(ctx, offerID)
	if err != nil {
		return err
	}
	invoiceID := strconv.FormatInt(invoice.ID, 10)
	if err := w.store.SetDealMocoIDs(ctx, deal.ID, nil, &invoiceID); err != nil {
		return err
	}
	logger.Info("moco invoice created", "deal_id", deal.ID.String(), "invoice_id", invoiceID)
	return nil
}

// customerIDFor resolves the synced Moco customer for a lead's
// organization. A missing customer is a validation failure: the
// create_customer action must run first.
func (w *SyncWorker) customerIDFor(ctx context.Context, leadID uuid.UUID) (int64, error) {
	lead, err := w.store.GetLead(ctx, leadID)
	if err != nil {
		return 0, err
	}
	if lead.OrganizationID == nil {
		return 0, apperr.New(apperr.CodeValidation, "lead %s has no organization", lead.ID)
	}
	org, err := w.store.GetOrganization(ctx, *lead.OrganizationID)
	if err != nil {
		return 0, err
	}
	if org.MocoCustomerID == nil {
		return 0, apperr.New(apperr.CodeValidation, "organization %s not synced to moco yet", org.ID)
	}
	id, err := strconv.ParseInt(*org.MocoCustomerID, 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInvariantViolation, err, "malformed moco customer id on organization %s", org.ID)
	}
	return id, nil
}
