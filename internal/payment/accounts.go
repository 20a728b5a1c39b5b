// Package payment implements the receipt verification pipeline: vision
// extraction of payment receipt images and the business rules that decide
// whether a submission is a valid payment.
package payment

import (
	"fmt"
	"strings"
)

// ReceivingAccount is one allow-listed destination for customer payments.
type ReceivingAccount struct {
	Bank    string
	Account string
	NIT     string
	Holder  string
}

// BancolombiaConvenio is the payment agreement code for Corresponsal
// Bancolombia and app payments.
const BancolombiaConvenio = "94375"

// receivingAccounts is the fixed allow-list of accounts that receive
// customer payments. Receipt validation accepts no other destination.
var receivingAccounts = []ReceivingAccount{
	{Bank: "BANCOLOMBIA", Account: "26100006596", NIT: "901707684", Holder: "Conecta2 Telecomunicaciones"},
	{Bank: "NEQUI", Account: "3242156679"},
	{Bank: "DAVIVIENDA", Account: "0488403242917"},
}

// accountAllowed reports whether the digits-only account number matches an
// allow-listed account.
func accountAllowed(digits string) bool {
	for _, acc := range receivingAccounts {
		if acc.Account == digits {
			return true
		}
	}
	return false
}

// bankAllowed reports whether the bank name matches an allow-listed bank by
// case-insensitive substring in either direction ("Bancolombia S.A." and
// "BANCOLOMBIA" both pass).
func bankAllowed(name string) bool {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" {
		return false
	}
	for _, acc := range receivingAccounts {
		if strings.Contains(upper, acc.Bank) || strings.Contains(acc.Bank, upper) {
			return true
		}
	}
	return false
}

// AuthorizedAccountsInfo formats the allow-listed accounts for user-facing
// replies.
func AuthorizedAccountsInfo() string {
	var b strings.Builder
	b.WriteString("💳 *CUENTAS AUTORIZADAS PARA PAGOS:*\n\n")
	b.WriteString(fmt.Sprintf("📱 *CORRESPONSAL BANCOLOMBIA* o *APP*\n• Convenio: %s + TU CÓDIGO DE USUARIO\n\n", BancolombiaConvenio))
	for _, acc := range receivingAccounts {
		b.WriteString(fmt.Sprintf("🏦 *%s*\n• Cuenta: %s\n", acc.Bank, acc.Account))
		if acc.NIT != "" {
			b.WriteString(fmt.Sprintf("• NIT: %s\n", acc.NIT))
		}
		if acc.Holder != "" {
			b.WriteString(fmt.Sprintf("• Titular: %s\n", acc.Holder))
		}
		b.WriteString("\n")
	}
	b.WriteString("⚠️ *IMPORTANTE:* Solo se aceptan pagos del mes actual.")
	return b.String()
}
