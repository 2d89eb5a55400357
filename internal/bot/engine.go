package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/send"
	"github.com/sofrahq/sofra-gateway/internal/store"
	"github.com/sofrahq/sofra-gateway/internal/window"
)

// MaxQuantity bounds one cart line.
const MaxQuantity = 20

const defaultCurrency = "SAR"

// convContext is short-lived browsing state: the category the customer is
// looking at and the item awaiting a quantity. Losing it (restart) degrades
// to re-showing the menu; the cart itself lives in the order draft.
type convContext struct {
	categoryID  string
	pendingItem *Item
}

// Engine is the conversation state machine. All durable state is in the
// store; Engine instances are safe for concurrent use.
type Engine struct {
	store     store.Store
	msgr      Messenger
	catalog   Catalog
	geo       Geocoder
	submitter OrderSubmitter
	warmer    Warmer
	keeper    *window.Keeper
	bus       events.Bus

	mu   sync.Mutex
	ctxs map[uuid.UUID]*convContext
}

func NewEngine(st store.Store, msgr Messenger, catalog Catalog, geo Geocoder, submitter OrderSubmitter, warmer Warmer, keeper *window.Keeper, bus events.Bus) *Engine {
	return &Engine{
		store:     st,
		msgr:      msgr,
		catalog:   catalog,
		geo:       geo,
		submitter: submitter,
		warmer:    warmer,
		keeper:    keeper,
		bus:       bus,
		ctxs:      make(map[uuid.UUID]*convContext),
	}
}

func (e *Engine) convCtx(id uuid.UUID) *convContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.ctxs[id]
	if !ok {
		c = &convContext{}
		e.ctxs[id] = c
	}
	return c
}

func (e *Engine) dropCtx(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.ctxs, id)
}

// HandleInbound advances the conversation for one accepted inbound message.
// Button clicks carrying the view-order id take the cached-payload path and
// never enter the state machine.
func (e *Engine) HandleInbound(ctx context.Context, t *model.Tenant, conv *model.Conversation, msg *model.Message) error {
	if !conv.BotEnabled || conv.State == model.StateHandover {
		return nil
	}

	body := msg.Body
	if msg.Kind == model.KindButton {
		if payload := msg.Metadata["buttonPayload"]; payload != "" {
			body = payload
		}
		if strings.TrimSpace(body) == ButtonViewOrder {
			return e.respondCached(ctx, t, conv)
		}
	}

	in := parseInput(body)

	// Global intents cut across states.
	if in.kind == inputText {
		switch {
		case isNewOrderIntent(in.text):
			return e.startOver(ctx, t, conv, msg)
		case isTrackIntent(in.text):
			return e.trackOrder(ctx, t, conv)
		}
	}

	switch conv.State {
	case model.StateNew:
		return e.welcome(ctx, t, conv, msg)
	case model.StateAwaitingType:
		return e.handleAwaitingType(ctx, t, conv, in)
	case model.StateAwaitingLocation:
		return e.handleAwaitingLocation(ctx, t, conv, msg, in)
	case model.StateAwaitingBranch:
		return e.handleAwaitingBranch(ctx, t, conv, in)
	case model.StateBrowsingCats:
		return e.handleBrowsingCategories(ctx, t, conv, in)
	case model.StateBrowsingItems:
		return e.handleBrowsingItems(ctx, t, conv, in)
	case model.StateAwaitingQty:
		return e.handleAwaitingQuantity(ctx, t, conv, in)
	case model.StateCartOverview:
		return e.handleCartOverview(ctx, t, conv, in)
	case model.StateAwaitingRemoval:
		return e.handleAwaitingRemoval(ctx, t, conv, in)
	case model.StateCheckout:
		// Checkout re-emits the summary and waits for payment.
		return e.goCheckout(ctx, t, conv)
	case model.StateAwaitingPayment:
		return e.handleAwaitingPayment(ctx, t, conv, in)
	case model.StateOrderSubmitted, model.StateTracking:
		return e.say(ctx, t, conv, msgThanks)
	default:
		return e.welcome(ctx, t, conv, msg)
	}
}

func (e *Engine) say(ctx context.Context, t *model.Tenant, conv *model.Conversation, body string) error {
	_, err := e.msgr.Send(ctx, send.Request{
		Tenant:         t,
		ConversationID: conv.ID,
		Customer:       conv.Customer,
		Body:           body,
	})
	return err
}

func (e *Engine) setState(ctx context.Context, conv *model.Conversation, state model.BotState) error {
	if err := e.store.SetConversationState(ctx, conv.ID, state); err != nil {
		return err
	}
	conv.State = state
	return nil
}

func (e *Engine) welcome(ctx context.Context, t *model.Tenant, conv *model.Conversation, msg *model.Message) error {
	name := strings.TrimSpace(msg.Metadata["profileName"])
	if name == "" {
		name = "عميلنا العزيز"
	}
	if err := e.say(ctx, t, conv, fmt.Sprintf(msgWelcome, name, t.Name)); err != nil {
		return err
	}

	if err := e.warmer.WarmUp(ctx, t.ID, conv.ID, conv.Customer); err != nil {
		log.Warn().Err(err).Str("tenantId", t.ID.String()).Msg("failed to enqueue bootstrap job")
	}
	return e.setState(ctx, conv, model.StateAwaitingType)
}

func (e *Engine) handleAwaitingType(ctx context.Context, t *model.Tenant, conv *model.Conversation, in input) error {
	switch {
	case in.kind == inputText && isDeliveryIntent(in.text):
		if err := e.say(ctx, t, conv, msgAskLocation); err != nil {
			return err
		}
		return e.setState(ctx, conv, model.StateAwaitingLocation)
	case in.kind == inputText && isPickupIntent(in.text):
		return e.askBranch(ctx, t, conv)
	default:
		return e.say(ctx, t, conv, msgInvalidChoice)
	}
}

func (e *Engine) askBranch(ctx context.Context, t *model.Tenant, conv *model.Conversation) error {
	branches, err := e.catalog.Branches(ctx, t.MerchantID)
	if err != nil || len(branches) == 0 {
		log.Error().Err(err).Str("merchantId", t.MerchantID).Msg("branch list unavailable")
		return e.say(ctx, t, conv, submitErrorMessage(model.CodeAPIError))
	}
	if err := e.say(ctx, t, conv, fmt.Sprintf(msgAskBranch, formatBranches(branches))); err != nil {
		return err
	}
	return e.setState(ctx, conv, model.StateAwaitingBranch)
}

func (e *Engine) handleAwaitingLocation(ctx context.Context, t *model.Tenant, conv *model.Conversation, msg *model.Message, in input) error {
	var lat, lng float64
	var ok bool
	if msg.Kind == model.KindLocation {
		lat, lng, ok = coordsFromMetadata(msg.Metadata)
	}
	if !ok && in.kind == inputText {
		lat, lng, ok = parseCoords(in.text)
	}
	if !ok {
		return e.say(ctx, t, conv, msgAskLocation)
	}

	address, err := e.geo.ReverseGeocode(ctx, lat, lng)
	if err != nil || address == "" {
		// A raw coordinate pair still lets the kitchen find the customer.
		log.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("reverse geocode failed")
		address = fmt.Sprintf("%.6f, %.6f", lat, lng)
	}

	draft, err := e.ensureDraft(ctx, t, conv, model.OrderDelivery)
	if err != nil {
		return err
	}
	draft.Type = model.OrderDelivery
	draft.Address = &model.DeliveryAddress{Lat: lat, Lng: lng, Address: address}
	if err := e.store.SaveOrder(ctx, draft); err != nil {
		return err
	}
	return e.showCategories(ctx, t, conv)
}

func coordsFromMetadata(meta map[string]string) (float64, float64, bool) {
	lat, lng, ok := parseCoords(meta["latitude"] + "," + meta["longitude"])
	return lat, lng, ok
}

func (e *Engine) handleAwaitingBranch(ctx context.Context, t *model.Tenant, conv *model.Conversation, in input) error {
	branches, err := e.catalog.Branches(ctx, t.MerchantID)
	if err != nil {
		return e.say(ctx, t, conv, submitErrorMessage(model.CodeAPIError))
	}

	var picked *model.Branch
	switch in.kind {
	case inputBranch:
		for i := range branches {
			if branches[i].ID == in.id {
				picked = &branches[i]
			}
		}
	case inputText:
		if idx, ok := parseIndex(in.text, len(branches)); ok {
			picked = &branches[idx-1]
		} else {
			for i := range branches {
				if strings.Contains(normalize(branches[i].Name), in.text) {
					picked = &branches[i]
					break
				}
			}
		}
	}
	if picked == nil {
		return e.say(ctx, t, conv, fmt.Sprintf(msgAskBranch, formatBranches(branches)))
	}

	draft, err := e.ensureDraft(ctx, t, conv, model.OrderTakeaway)
	if err != nil {
		return err
	}
	draft.Type = model.OrderTakeaway
	draft.Branch = picked
	if err := e.store.SaveOrder(ctx, draft); err != nil {
		return err
	}
	return e.showCategories(ctx, t, conv)
}

func (e *Engine) showCategories(ctx context.Context, t *model.Tenant, conv *model.Conversation) error {
	cats, err := e.catalog.Categories(ctx, t.MerchantID)
	if err != nil || len(cats) == 0 {
		log.Error().Err(err).Str("merchantId", t.MerchantID).Msg("menu unavailable")
		return e.say(ctx, t, conv, submitErrorMessage(model.CodeAPIError))
	}
	if err := e.say(ctx, t, conv, fmt.Sprintf(msgCategories, formatCategories(cats))); err != nil {
		return err
	}
	return e.setState(ctx, conv, model.StateBrowsingCats)
}

func (e *Engine) handleBrowsingCategories(ctx context.Context, t *model.Tenant, conv *model.Conversation, in input) error {
	if in.kind == inputText && isCheckoutIntent(in.text) {
		return e.goCheckout(ctx, t, conv)
	}

	cats, err := e.catalog.Categories(ctx, t.MerchantID)
	if err != nil {
		return e.say(ctx, t, conv, submitErrorMessage(model.CodeAPIError))
	}

	var picked *Category
	switch in.kind {
	case inputCategory:
		for i := range cats {
			if cats[i].ID == in.id {
				picked = &cats[i]
			}
		}
	case inputText:
		if idx, ok := parseIndex(in.text, len(cats)); ok {
			picked = &cats[idx-1]
		} else {
			for i := range cats {
				if strings.Contains(normalize(cats[i].Name), in.text) {
					picked = &cats[i]
					break
				}
			}
		}
	}
	if picked == nil {
		return e.say(ctx, t, conv, msgInvalidChoice)
	}

	items, err := e.catalog.Items(ctx, t.MerchantID, picked.ID)
	if err != nil || len(items) == 0 {
		return e.say(ctx, t, conv, submitErrorMessage(model.CodeAPIError))
	}
	e.convCtx(conv.ID).categoryID = picked.ID
	if err := e.say(ctx, t, conv, fmt.Sprintf(msgItems, picked.Name, formatItems(items, defaultCurrency))); err != nil {
		return err
	}
	return e.setState(ctx, conv, model.StateBrowsingItems)
}

func (e *Engine) handleBrowsingItems(ctx context.Context, t *model.Tenant, conv *model.Conversation, in input) error {
	cc := e.convCtx(conv.ID)

	var picked *Item
	switch in.kind {
	case inputItem:
		picked = e.findItemByID(ctx, t, in.id)
	case inputText:
		// Within the current category first: index, then name.
		if cc.categoryID != "" {
			items, err := e.catalog.Items(ctx, t.MerchantID, cc.categoryID)
			if err == nil {
				if idx, ok := parseIndex(in.text, len(items)); ok {
					picked = &items[idx-1]
				} else {
					for i := range items {
						if strings.Contains(normalize(items[i].Name), in.text) {
							picked = &items[i]
							break
						}
					}
				}
			}
		}
		if picked == nil {
			picked = e.findItemByText(ctx, t, in.text)
		}
	}
	if picked == nil {
		return e.say(ctx, t, conv, msgInvalidChoice)
	}

	cc.pendingItem = picked
	if err := e.say(ctx, t, conv, fmt.Sprintf(msgAskQuantity, picked.Name, MaxQuantity)); err != nil {
		return err
	}
	return e.setState(ctx, conv, model.StateAwaitingQty)
}

func (e *Engine) findItemByID(ctx context.Context, t *model.Tenant, id string) *Item {
	cats, err := e.catalog.Categories(ctx, t.MerchantID)
	if err != nil {
		return nil
	}
	for _, c := range cats {
		items, err := e.catalog.Items(ctx, t.MerchantID, c.ID)
		if err != nil {
			continue
		}
		for i := range items {
			if items[i].ID == id {
				return &items[i]
			}
		}
	}
	return nil
}

func (e *Engine) findItemByText(ctx context.Context, t *model.Tenant, text string) *Item {
	cats, err := e.catalog.Categories(ctx, t.MerchantID)
	if err != nil {
		return nil
	}
	for _, c := range cats {
		items, err := e.catalog.Items(ctx, t.MerchantID, c.ID)
		if err != nil {
			continue
		}
		for i := range items {
			if strings.Contains(normalize(items[i].Name), text) {
				return &items[i]
			}
		}
	}
	return nil
}

func (e *Engine) handleAwaitingQuantity(ctx context.Context, t *model.Tenant, conv *model.Conversation, in input) error {
	qty := in.qty
	if in.kind == inputText {
		n, ok := parseIndex(in.text, MaxQuantity)
		if !ok {
			return e.say(ctx, t, conv, fmt.Sprintf(msgInvalidQuantity, MaxQuantity))
		}
		qty = n
	}
	if qty < 1 || qty > MaxQuantity {
		return e.say(ctx, t, conv, fmt.Sprintf(msgInvalidQuantity, MaxQuantity))
	}

	cc := e.convCtx(conv.ID)
	if cc.pendingItem == nil {
		// Lost the staged item (restart); walk the customer back to the menu.
		return e.showCategories(ctx, t, conv)
	}
	item := *cc.pendingItem
	cc.pendingItem = nil

	draft, err := e.ensureDraft(ctx, t, conv, model.OrderDelivery)
	if err != nil {
		return err
	}
	merged := false
	for i := range draft.Items {
		if draft.Items[i].ItemID == item.ID {
			draft.Items[i].Quantity += qty
			merged = true
			break
		}
	}
	if !merged {
		draft.Items = append(draft.Items, model.OrderItem{
			ItemID:    item.ID,
			Name:      item.Name,
			Quantity:  qty,
			UnitPrice: item.Price,
		})
	}
	if err := e.store.SaveOrder(ctx, draft); err != nil {
		return err
	}

	if err := e.say(ctx, t, conv, fmt.Sprintf(msgItemAdded, qty, item.Name)); err != nil {
		return err
	}
	return e.setState(ctx, conv, model.StateCartOverview)
}

func (e *Engine) handleCartOverview(ctx context.Context, t *model.Tenant, conv *model.Conversation, in input) error {
	if in.kind != inputText {
		return e.say(ctx, t, conv, msgInvalidChoice)
	}
	switch {
	case isAddIntent(in.text):
		return e.showCategories(ctx, t, conv)
	case isViewIntent(in.text):
		return e.showCart(ctx, t, conv)
	case isRemoveIntent(in.text):
		return e.askRemoval(ctx, t, conv)
	case isCheckoutIntent(in.text):
		return e.goCheckout(ctx, t, conv)
	default:
		return e.say(ctx, t, conv, msgInvalidChoice)
	}
}

func (e *Engine) showCart(ctx context.Context, t *model.Tenant, conv *model.Conversation) error {
	draft, err := e.store.CurrentDraft(ctx, conv.ID)
	if errors.Is(err, store.ErrNoDraft) || (err == nil && len(draft.Items) == 0) {
		return e.say(ctx, t, conv, msgCartEmpty)
	}
	if err != nil {
		return err
	}
	return e.say(ctx, t, conv, fmt.Sprintf(msgCartSummary, formatCart(draft), formatMoney(draft.Subtotal(), draft.Currency)))
}

func (e *Engine) askRemoval(ctx context.Context, t *model.Tenant, conv *model.Conversation) error {
	draft, err := e.store.CurrentDraft(ctx, conv.ID)
	if errors.Is(err, store.ErrNoDraft) || (err == nil && len(draft.Items) == 0) {
		return e.say(ctx, t, conv, msgCartEmpty)
	}
	if err != nil {
		return err
	}
	if err := e.say(ctx, t, conv, fmt.Sprintf(msgAskRemoval, formatCart(draft))); err != nil {
		return err
	}
	return e.setState(ctx, conv, model.StateAwaitingRemoval)
}

func (e *Engine) handleAwaitingRemoval(ctx context.Context, t *model.Tenant, conv *model.Conversation, in input) error {
	draft, err := e.store.CurrentDraft(ctx, conv.ID)
	if errors.Is(err, store.ErrNoDraft) {
		return e.say(ctx, t, conv, msgCartEmpty)
	}
	if err != nil {
		return err
	}

	idx := -1
	switch in.kind {
	case inputRemove:
		for i := range draft.Items {
			if draft.Items[i].ItemID == in.id {
				idx = i
				break
			}
		}
	case inputText:
		// Precedence: list index, exact name, substring.
		if n, ok := parseIndex(in.text, len(draft.Items)); ok {
			idx = n - 1
		}
		if idx < 0 {
			for i := range draft.Items {
				if normalize(draft.Items[i].Name) == in.text {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			for i := range draft.Items {
				if strings.Contains(normalize(draft.Items[i].Name), in.text) {
					idx = i
					break
				}
			}
		}
	}
	if idx < 0 {
		return e.say(ctx, t, conv, fmt.Sprintf(msgAskRemoval, formatCart(draft)))
	}

	removed := draft.Items[idx]
	draft.Items = append(draft.Items[:idx], draft.Items[idx+1:]...)
	if err := e.store.SaveOrder(ctx, draft); err != nil {
		return err
	}

	if err := e.say(ctx, t, conv, fmt.Sprintf(msgItemRemoved, removed.Name)); err != nil {
		return err
	}
	if len(draft.Items) == 0 {
		if err := e.say(ctx, t, conv, msgCartEmpty); err != nil {
			return err
		}
	}
	return e.setState(ctx, conv, model.StateCartOverview)
}

func (e *Engine) goCheckout(ctx context.Context, t *model.Tenant, conv *model.Conversation) error {
	draft, err := e.store.CurrentDraft(ctx, conv.ID)
	if errors.Is(err, store.ErrNoDraft) || (err == nil && len(draft.Items) == 0) {
		if serr := e.say(ctx, t, conv, submitErrorMessage(model.CodeInvalidItems)); serr != nil {
			return serr
		}
		return e.setState(ctx, conv, model.StateCartOverview)
	}
	if err != nil {
		return err
	}

	if draft.Type == model.OrderDelivery && draft.Address == nil {
		if serr := e.say(ctx, t, conv, submitErrorMessage(model.CodeCustomerInfoMissing)); serr != nil {
			return serr
		}
		return e.setState(ctx, conv, model.StateAwaitingLocation)
	}
	if draft.Type != model.OrderDelivery && draft.Branch == nil {
		if serr := e.say(ctx, t, conv, submitErrorMessage(model.CodeNoBranchSelected)); serr != nil {
			return serr
		}
		return e.askBranch(ctx, t, conv)
	}

	summary := fmt.Sprintf(msgCheckoutSummary,
		formatCart(draft),
		formatMoney(draft.Subtotal(), draft.Currency),
		formatDestination(draft))
	if err := e.say(ctx, t, conv, summary); err != nil {
		return err
	}
	return e.setState(ctx, conv, model.StateAwaitingPayment)
}

func (e *Engine) handleAwaitingPayment(ctx context.Context, t *model.Tenant, conv *model.Conversation, in input) error {
	pay := in.pay
	if in.kind == inputText {
		p, ok := parsePayment(in.text)
		if !ok {
			return e.say(ctx, t, conv, submitErrorMessage(model.CodeMissingPaymentMethod))
		}
		pay = p
	}

	draft, err := e.store.CurrentDraft(ctx, conv.ID)
	if errors.Is(err, store.ErrNoDraft) {
		if serr := e.say(ctx, t, conv, submitErrorMessage(model.CodeInvalidItems)); serr != nil {
			return serr
		}
		return e.setState(ctx, conv, model.StateCartOverview)
	}
	if err != nil {
		return err
	}

	draft.Payment = pay
	if err := e.store.SaveOrder(ctx, draft); err != nil {
		return err
	}

	external, err := e.submitter.Submit(ctx, t, draft)
	if err != nil {
		se := model.AsSubmitError(err)
		log.Warn().Str("code", string(se.Code)).Str("orderId", draft.ID.String()).Msg("order submission failed")
		// Stay in AWAITING_PAYMENT; the customer can retry.
		return e.say(ctx, t, conv, submitErrorMessage(se.Code))
	}

	draft.ExternalNumber = external
	if err := e.store.SaveOrder(ctx, draft); err != nil {
		return err
	}
	confirmed, err := e.store.TransitionOrder(ctx, draft.ID, model.OrderConfirmed)
	if err != nil {
		return err
	}

	evt := events.NewEvent(events.TypeOrderUpdated, t.ID.String(), map[string]any{
		"orderId":        confirmed.ID.String(),
		"externalNumber": confirmed.ExternalNumber,
		"status":         confirmed.Status,
		"total":          confirmed.Total,
	})
	if err := e.bus.Publish(ctx, events.OrderChannel(t.ID.String()), evt); err != nil {
		log.Warn().Err(err).Msg("failed to publish order.updated")
	}

	e.dropCtx(conv.ID)
	if err := e.say(ctx, t, conv, fmt.Sprintf(msgOrderConfirmed, external)); err != nil {
		return err
	}
	return e.setState(ctx, conv, model.StateOrderSubmitted)
}

func (e *Engine) trackOrder(ctx context.Context, t *model.Tenant, conv *model.Conversation) error {
	o, err := e.store.LatestOrder(ctx, conv.ID)
	if errors.Is(err, store.ErrOrderNotFound) {
		return e.say(ctx, t, conv, msgNoOrders)
	}
	if err != nil {
		return err
	}

	number := o.ExternalNumber
	if number == "" {
		number = o.ID.String()[:8]
	}
	if err := e.say(ctx, t, conv, fmt.Sprintf(msgTracking, number, orderStatusNames[o.Status])); err != nil {
		return err
	}
	if conv.State == model.StateOrderSubmitted {
		return e.setState(ctx, conv, model.StateTracking)
	}
	return nil
}

// startOver cancels any open draft and restarts the flow from the welcome.
func (e *Engine) startOver(ctx context.Context, t *model.Tenant, conv *model.Conversation, msg *model.Message) error {
	if draft, err := e.store.CurrentDraft(ctx, conv.ID); err == nil {
		if _, terr := e.store.TransitionOrder(ctx, draft.ID, model.OrderCancelled); terr != nil {
			log.Warn().Err(terr).Str("orderId", draft.ID.String()).Msg("failed to cancel draft on restart")
		}
	}
	e.dropCtx(conv.ID)
	if err := e.setState(ctx, conv, model.StateNew); err != nil {
		return err
	}
	return e.welcome(ctx, t, conv, msg)
}

// respondCached answers a view-order button click with the parked payload,
// forced freeform because the click itself reopened the window.
func (e *Engine) respondCached(ctx context.Context, t *model.Tenant, conv *model.Conversation) error {
	p, ok, err := e.keeper.Redeem(ctx, t.ID, conv.Customer)
	if err != nil {
		return err
	}
	body := msgCachedGone
	var media string
	if ok {
		body = p.Body
		media = p.MediaURL
	}
	_, err = e.msgr.Send(ctx, send.Request{
		Tenant:         t,
		ConversationID: conv.ID,
		Customer:       conv.Customer,
		Body:           body,
		MediaURL:       media,
		ForceFreeform:  true,
	})
	return err
}

// ensureDraft returns the open draft or creates one.
func (e *Engine) ensureDraft(ctx context.Context, t *model.Tenant, conv *model.Conversation, typ model.OrderType) (*model.Order, error) {
	draft, err := e.store.CurrentDraft(ctx, conv.ID)
	if err == nil {
		return draft, nil
	}
	if !errors.Is(err, store.ErrNoDraft) {
		return nil, err
	}
	draft = &model.Order{
		ConversationID: conv.ID,
		TenantID:       t.ID,
		Status:         model.OrderDraft,
		Type:           typ,
		Currency:       defaultCurrency,
	}
	if err := e.store.SaveOrder(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}
