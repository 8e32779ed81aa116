package main

import (
	"time"

	"github.com/shopspring/decimal"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/negotiation"
	"freightflow/pickup"
	"freightflow/quote"
	"freightflow/rating"
	"freightflow/settlement"
	"freightflow/workflow"
)

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func optTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Role      auth.Role `json:"role"`
	CreatedAt string    `json:"createdAt"`
}

func newUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role, CreatedAt: timestamp(u.CreatedAt)}
}

type cargoDTO struct {
	Description  string             `json:"description"`
	WeightKg     decimal.Decimal    `json:"weightKg"`
	Volumes      int                `json:"volumes"`
	InvoiceValue decimal.Decimal    `json:"invoiceValue"`
	FreightPayer quote.FreightPayer `json:"freightPayer"`
}

type createQuoteRequest struct {
	Cargo              cargoDTO      `json:"cargo"`
	PickupAddress      quote.Address `json:"pickupAddress"`
	DestinationAddress quote.Address `json:"destinationAddress"`
	ScheduledPickup    time.Time     `json:"scheduledPickup"`
	BiddingDeadline    time.Time     `json:"biddingDeadline"`
}

func (r createQuoteRequest) params() workflow.CreateQuoteParams {
	return workflow.CreateQuoteParams{
		Cargo: quote.Cargo{
			Description:  r.Cargo.Description,
			WeightKg:     r.Cargo.WeightKg,
			Volumes:      r.Cargo.Volumes,
			InvoiceValue: r.Cargo.InvoiceValue,
			FreightPayer: r.Cargo.FreightPayer,
		},
		Route: quote.Route{
			Pickup:          r.PickupAddress,
			Destination:     r.DestinationAddress,
			ScheduledPickup: r.ScheduledPickup,
			BiddingDeadline: r.BiddingDeadline,
		},
	}
}

type cargoResponse struct {
	Description  string             `json:"description"`
	WeightKg     string             `json:"weightKg"`
	Volumes      int                `json:"volumes"`
	InvoiceValue string             `json:"invoiceValue"`
	FreightPayer quote.FreightPayer `json:"freightPayer"`
}

type selectionResponse struct {
	ResponseID     string `json:"responseId"`
	CarrierID      string `json:"carrierId"`
	LeadTimeDays   int    `json:"leadTimeDays"`
	InsuranceValue string `json:"insuranceValue"`
	AcceptedAt     string `json:"acceptedAt"`
}

type pickupResponse struct {
	ConfirmedAt       string  `json:"confirmedAt"`
	EstimatedDelivery string  `json:"estimatedDelivery"`
	Late              bool    `json:"late"`
	DelayReason       string  `json:"delayReason,omitempty"`
	RevisedDelivery   *string `json:"revisedDelivery,omitempty"`
}

type documentResponse struct {
	Code            string  `json:"code"`
	OriginalValue   string  `json:"originalValue"`
	DeclaredValue   string  `json:"declaredValue"`
	Difference      string  `json:"difference"`
	RegisteredAt    string  `json:"registeredAt"`
	ApprovedAt      *string `json:"approvedAt,omitempty"`
	RejectionReason string  `json:"rejectionReason,omitempty"`
}

type deliveryResponse struct {
	Documents    []string `json:"documents"`
	TrackingURL  string   `json:"trackingUrl,omitempty"`
	TrackingCode string   `json:"trackingCode,omitempty"`
}

type quoteResponse struct {
	ID                 string             `json:"id"`
	ClientID           string             `json:"clientId"`
	Status             quote.Status       `json:"status"`
	Cargo              cargoResponse      `json:"cargo"`
	PickupAddress      quote.Address      `json:"pickupAddress"`
	DestinationAddress quote.Address      `json:"destinationAddress"`
	ScheduledPickup    *string            `json:"scheduledPickup,omitempty"`
	BiddingDeadline    string             `json:"biddingDeadline"`
	AgreedValue        *string            `json:"agreedValue,omitempty"`
	Selection          *selectionResponse `json:"selection,omitempty"`
	Pickup             *pickupResponse    `json:"pickup,omitempty"`
	Document           *documentResponse  `json:"document,omitempty"`
	Delivery           deliveryResponse   `json:"delivery"`
	FinalizedAt        *string            `json:"finalizedAt,omitempty"`
	ReturnedAt         *string            `json:"returnedAt,omitempty"`
	ReturnReason       string             `json:"returnReason,omitempty"`
	Evaluated          bool               `json:"evaluated"`
	CreatedAt          string             `json:"createdAt"`
	UpdatedAt          string             `json:"updatedAt"`
}

func newQuoteResponse(q quote.Quote) quoteResponse {
	out := quoteResponse{
		ID:       q.ID,
		ClientID: q.ClientID,
		Status:   q.Status,
		Cargo: cargoResponse{
			Description:  q.Cargo.Description,
			WeightKg:     q.Cargo.WeightKg.String(),
			Volumes:      q.Cargo.Volumes,
			InvoiceValue: money(q.Cargo.InvoiceValue),
			FreightPayer: q.Cargo.FreightPayer,
		},
		PickupAddress:      q.Route.Pickup,
		DestinationAddress: q.Route.Destination,
		BiddingDeadline:    timestamp(q.Route.BiddingDeadline),
		Delivery: deliveryResponse{
			Documents:    append([]string{}, q.Delivery.Documents...),
			TrackingURL:  q.Delivery.TrackingURL,
			TrackingCode: q.Delivery.TrackingCode,
		},
		FinalizedAt:  optTimestamp(q.FinalizedAt),
		ReturnedAt:   optTimestamp(q.ReturnedAt),
		ReturnReason: q.ReturnReason,
		Evaluated:    q.Evaluated,
		CreatedAt:    timestamp(q.CreatedAt),
		UpdatedAt:    timestamp(q.UpdatedAt),
	}
	if !q.Route.ScheduledPickup.IsZero() {
		out.ScheduledPickup = optTimestamp(&q.Route.ScheduledPickup)
	}
	if sel := q.Selection; sel != nil {
		agreed := money(q.AgreedValue)
		out.AgreedValue = &agreed
		out.Selection = &selectionResponse{
			ResponseID:     sel.ResponseID,
			CarrierID:      sel.CarrierID,
			LeadTimeDays:   sel.LeadTimeDays,
			InsuranceValue: money(sel.InsuranceValue),
			AcceptedAt:     timestamp(sel.AcceptedAt),
		}
	}
	if p := q.Pickup; p != nil {
		out.Pickup = &pickupResponse{
			ConfirmedAt:       timestamp(p.ConfirmedAt),
			EstimatedDelivery: timestamp(p.EstimatedDelivery),
			Late:              p.Late,
			DelayReason:       p.DelayReason,
			RevisedDelivery:   optTimestamp(p.RevisedDelivery),
		}
	}
	if d := q.Document; d != nil {
		out.Document = &documentResponse{
			Code:            d.Code,
			OriginalValue:   money(d.OriginalValue),
			DeclaredValue:   money(d.DeclaredValue),
			Difference:      money(d.Difference),
			RegisteredAt:    timestamp(d.RegisteredAt),
			ApprovedAt:      optTimestamp(d.ApprovedAt),
			RejectionReason: d.RejectionReason,
		}
	}
	return out
}

func newQuoteResponses(qs []quote.Quote) []quoteResponse {
	out := make([]quoteResponse, 0, len(qs))
	for _, q := range qs {
		out = append(out, newQuoteResponse(q))
	}
	return out
}

type submitResponseRequest struct {
	TotalValue     decimal.Decimal `json:"totalValue"`
	LeadTimeDays   int             `json:"leadTimeDays"`
	InsuranceValue decimal.Decimal `json:"insuranceValue"`
}

type bidResponse struct {
	ID             string `json:"id"`
	QuoteID        string `json:"quoteId"`
	CarrierID      string `json:"carrierId"`
	TotalValue     string `json:"totalValue"`
	LeadTimeDays   int    `json:"leadTimeDays"`
	InsuranceValue string `json:"insuranceValue"`
	Selected       bool   `json:"selected"`
	CreatedAt      string `json:"createdAt"`
}

func newBidResponse(r quote.Response) bidResponse {
	return bidResponse{
		ID:             r.ID,
		QuoteID:        r.QuoteID,
		CarrierID:      r.CarrierID,
		TotalValue:     money(r.TotalValue),
		LeadTimeDays:   r.LeadTimeDays,
		InsuranceValue: money(r.InsuranceValue),
		Selected:       r.Selected,
		CreatedAt:      timestamp(r.CreatedAt),
	}
}

type dailyCodeResponse struct {
	CarrierID   string `json:"carrierId"`
	Code        string `json:"code"`
	GeneratedOn string `json:"generatedOn"`
	GeneratedAt string `json:"generatedAt"`
}

func newDailyCodeResponse(c pickup.DailyCode) dailyCodeResponse {
	return dailyCodeResponse{CarrierID: c.CarrierID, Code: c.Code, GeneratedOn: c.GeneratedOn, GeneratedAt: timestamp(c.GeneratedAt)}
}

type renegotiationResponse struct {
	Cycle         int    `json:"cycle"`
	Attempts      int    `json:"counterProposals"`
	DocumentCode  string `json:"documentCode,omitempty"`
	OriginalValue string `json:"originalValue"`
	ProposedValue string `json:"proposedValue"`
}

type chatResponse struct {
	ID            string                 `json:"id"`
	QuoteID       string                 `json:"quoteId"`
	ClientID      string                 `json:"clientId"`
	CarrierID     string                 `json:"carrierId"`
	Kind          negotiation.Kind       `json:"kind"`
	Status        negotiation.Status     `json:"status"`
	Renegotiation *renegotiationResponse `json:"renegotiation,omitempty"`
	CreatedAt     string                 `json:"createdAt"`
	UpdatedAt     string                 `json:"updatedAt"`
}

func newChatResponse(c negotiation.Chat) chatResponse {
	out := chatResponse{
		ID:        c.ID,
		QuoteID:   c.QuoteID,
		ClientID:  c.ClientID,
		CarrierID: c.CarrierID,
		Kind:      c.Kind,
		Status:    c.Status(),
		CreatedAt: timestamp(c.CreatedAt),
		UpdatedAt: timestamp(c.UpdatedAt),
	}
	if r := c.Renegotiation; r != nil {
		out.Renegotiation = &renegotiationResponse{
			Cycle:         r.Cycle,
			Attempts:      r.Attempts,
			DocumentCode:  r.DocumentCode,
			OriginalValue: money(r.OriginalValue),
			ProposedValue: money(r.ProposedValue),
		}
	}
	return out
}

type payloadResponse struct {
	Type          negotiation.PayloadType `json:"type"`
	Cycle         int                     `json:"cycle"`
	DocumentCode  string                  `json:"documentCode,omitempty"`
	OriginalValue string                  `json:"originalValue"`
	ProposedValue string                  `json:"proposedValue"`
	Difference    string                  `json:"difference"`
	Reason        string                  `json:"reason,omitempty"`
}

type messageResponse struct {
	ID        string                 `json:"id"`
	ChatID    string                 `json:"chatId"`
	Seq       int                    `json:"seq"`
	Sender    negotiation.SenderRole `json:"sender"`
	SenderID  string                 `json:"senderId,omitempty"`
	Body      string                 `json:"body"`
	Payload   *payloadResponse       `json:"payload,omitempty"`
	CreatedAt string                 `json:"createdAt"`
}

func newMessageResponse(m negotiation.Message) messageResponse {
	out := messageResponse{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Seq:       m.Seq,
		Sender:    m.Sender,
		SenderID:  m.SenderID,
		Body:      m.Body,
		CreatedAt: timestamp(m.CreatedAt),
	}
	if p := m.Payload; p != nil {
		out.Payload = &payloadResponse{
			Type:          p.Type,
			Cycle:         p.Cycle,
			DocumentCode:  p.DocumentCode,
			OriginalValue: money(p.OriginalValue),
			ProposedValue: money(p.ProposedValue),
			Difference:    money(p.Difference),
			Reason:        p.Reason,
		}
	}
	return out
}

type documentRequest struct {
	DocumentCode  string          `json:"documentCode"`
	DeclaredValue decimal.Decimal `json:"declaredValue"`
	Reason        string          `json:"reason"`
}

type documentResultResponse struct {
	Quote      quoteResponse    `json:"quote"`
	Difference string           `json:"difference"`
	Chat       *chatResponse    `json:"chat,omitempty"`
	Message    *messageResponse `json:"message,omitempty"`
}

func newDocumentResultResponse(res workflow.DocumentResult) documentResultResponse {
	out := documentResultResponse{Quote: newQuoteResponse(res.Quote), Difference: money(res.Difference)}
	if res.Chat != nil {
		c := newChatResponse(*res.Chat)
		out.Chat = &c
	}
	if res.Message != nil {
		m := newMessageResponse(*res.Message)
		out.Message = &m
	}
	return out
}

type decisionResponse struct {
	Quote   quoteResponse   `json:"quote"`
	Chat    chatResponse    `json:"chat"`
	Message messageResponse `json:"message"`
}

func newDecisionResponse(res workflow.DecisionResult) decisionResponse {
	return decisionResponse{
		Quote:   newQuoteResponse(res.Quote),
		Chat:    newChatResponse(res.Chat),
		Message: newMessageResponse(res.Message),
	}
}

type splitResponse struct {
	Gross      string `json:"gross"`
	Commission string `json:"commission"`
	Insurance  string `json:"insurance"`
	CarrierNet string `json:"carrierNet"`
}

func newSplitResponse(s settlement.Split) splitResponse {
	return splitResponse{
		Gross:      money(s.Gross),
		Commission: money(s.Commission),
		Insurance:  money(s.Insurance),
		CarrierNet: money(s.CarrierNet),
	}
}

type ledgerItemResponse struct {
	QuoteID     string `json:"quoteId"`
	splitResponse
	FinalizedAt string `json:"finalizedAt"`
}

type ledgerResponse struct {
	ID        string `json:"id"`
	CarrierID string `json:"carrierId"`
	Period    string `json:"period"`
	splitResponse
	Entries         int                  `json:"entries"`
	Released        bool                 `json:"released"`
	ReleaseAt       *string              `json:"releaseAt,omitempty"`
	ReleaseEligible bool                 `json:"releaseEligible"`
	Items           []ledgerItemResponse `json:"items"`
}

func newLedgerResponse(e settlement.LedgerEntry) ledgerResponse {
	out := ledgerResponse{
		ID:        e.ID,
		CarrierID: e.CarrierID,
		Period:    e.Period.String(),
		splitResponse: splitResponse{
			Gross:      money(e.Gross),
			Commission: money(e.Commission),
			Insurance:  money(e.Insurance),
			CarrierNet: money(e.CarrierNet),
		},
		Entries:  e.Entries,
		Released: e.Released,
		Items:    make([]ledgerItemResponse, 0, len(e.Items)),
	}
	for _, item := range e.Items {
		out.Items = append(out.Items, ledgerItemResponse{
			QuoteID:       item.QuoteID,
			splitResponse: newSplitResponse(item.Split),
			FinalizedAt:   timestamp(item.FinalizedAt),
		})
	}
	return out
}

func newLedgerViewResponse(v workflow.LedgerView) ledgerResponse {
	out := newLedgerResponse(v.Entry)
	out.ReleaseAt = optTimestamp(&v.ReleaseAt)
	out.ReleaseEligible = v.ReleaseEligible
	return out
}

type finalizeResponse struct {
	Quote      quoteResponse  `json:"quote"`
	Settlement splitResponse  `json:"settlement"`
	Ledger     ledgerResponse `json:"ledger"`
}

type evaluationResponse struct {
	ID        string `json:"id"`
	QuoteID   string `json:"quoteId"`
	CarrierID string `json:"carrierId"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func newEvaluationResponse(e rating.Evaluation) evaluationResponse {
	return evaluationResponse{
		ID:        e.ID,
		QuoteID:   e.QuoteID,
		CarrierID: e.CarrierID,
		Rating:    e.Stars,
		Comment:   e.Comment,
		CreatedAt: timestamp(e.CreatedAt),
	}
}

type pendingEvaluationResponse struct {
	QuoteID     string `json:"quoteId"`
	CarrierID   string `json:"carrierId"`
	FinalizedAt string `json:"finalizedAt"`
	Overdue     bool   `json:"overdue"`
}

type carrierResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	RatingAverage float64 `json:"ratingAverage"`
	RatingCount   int     `json:"ratingCount"`
	Deliveries    int     `json:"deliveries"`
	LateThisMonth int     `json:"lateThisMonth"`
	LateThisYear  int     `json:"lateThisYear"`
	Blocked       bool    `json:"blocked"`
	CreatedAt     string  `json:"createdAt"`
}

func newCarrierResponse(p carrier.Profile) carrierResponse {
	return carrierResponse{
		ID:            p.ID,
		Name:          p.Name,
		RatingAverage: p.Rating.Average,
		RatingCount:   p.Rating.Count,
		Deliveries:    p.Deliveries,
		LateThisMonth: p.LateThisMonth,
		LateThisYear:  p.LateThisYear,
		Blocked:       p.Blocked,
		CreatedAt:     timestamp(p.CreatedAt),
	}
}
