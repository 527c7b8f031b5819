package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// fields NOWPayments echoes back that clients have no business seeing
var invoiceInternalFields = []string{
	"ipn_callback_url",
	"order_description",
	"order_id",
	"is_fee_paid_by_user",
	"customer_email",
	"token_id",
	"collect_user_data",
	"source",
}

func (a *App) HandleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	if a.payments == nil {
		writeError(w, http.StatusServiceUnavailable, "PAYMENTS_UNAVAILABLE", "Payment provider is not configured")
		return
	}

	settings, err := a.DB.GetAdminSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	price, err := strconv.ParseFloat(settings.SubscriptionPrice, 64)
	if err != nil || price <= 0 {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Subscription price is misconfigured")
		return
	}

	inv := InvoiceRequest{
		PriceAmount:      price,
		PriceCurrency:    "usd",
		OrderID:          strconv.FormatInt(user.ID, 10),
		OrderDescription: "Subscription for " + user.Email,
		IPNCallbackURL:   "https://" + a.cfg.BackendHost + "/payments/confirmation",
		SuccessURL:       "https://" + a.cfg.FrontendHost + "/payment/success",
		CancelURL:        "https://" + a.cfg.FrontendHost + "/payment/cancel",
		IsFeePaidByUser:  true,
	}

	invoice, err := a.payments.CreateInvoice(r.Context(), inv)
	if err != nil {
		writeError(w, http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "Failed to create invoice")
		return
	}

	for _, field := range invoiceInternalFields {
		delete(invoice, field)
	}

	writeJSON(w, http.StatusOK, invoice)
}

func (a *App) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	signature := r.Header.Get("x-nowpayments-sig")
	if signature == "" {
		writeError(w, http.StatusForbidden, "MISSING_SIGNATURE", "Missing signature header")
		return
	}
	if a.cfg.NowPaymentsIPNKey == "" {
		writeError(w, http.StatusForbidden, "IPN_NOT_CONFIGURED", "IPN verification is not configured")
		return
	}
	if !npSignatureCheck(a.cfg.NowPaymentsIPNKey, signature, body) {
		writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "HMAC signature does not match")
		return
	}

	var update PaymentStatusUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid webhook payload")
		return
	}

	log := logger.WithFields(map[string]interface{}{
		"payment_id": update.PaymentID,
		"status":     update.PaymentStatus,
		"order_id":   update.OrderID,
	})
	log.Info("payment status update")

	if strings.ToLower(update.PaymentStatus) == "finished" {
		if update.OrderID == "" {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Finished payment without order_id")
			return
		}
		userID, err := strconv.ParseInt(update.OrderID, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "order_id is not a user id")
			return
		}
		user, err := a.DB.GetUserByID(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			return
		}
		if user == nil {
			log.Error("finished payment for unknown user")
		} else {
			if err := a.DB.ActivateSubscription(userID); err != nil {
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to activate subscription")
				return
			}
			a.dispatcher.Dispatch(r.Context(), streamPayments, PaymentEvent{
				UserID:    userID,
				PaymentID: update.PaymentID,
				Amount:    update.PriceAmount,
				Currency:  update.PriceCurrency,
				Timestamp: time.Now().Unix(),
			})
			log.Info("subscription activated")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook received"})
}
