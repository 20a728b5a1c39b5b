package payment

import (
	"fmt"
	"strings"
)

// extractionPrompt is the fixed instruction sent with every receipt image.
// The model must answer with a single strict JSON object; anything else is
// rejected by ParseExtraction.
func extractionPrompt() string {
	var accounts strings.Builder
	for _, acc := range receivingAccounts {
		accounts.WriteString(fmt.Sprintf("- %s: %s\n", acc.Bank, acc.Account))
	}

	return fmt.Sprintf(`Analiza esta imagen de comprobante de pago y extrae la siguiente información:

1. MONTO: Cantidad pagada (número)
2. FECHA: Fecha de la transacción (formato DD/MM/YYYY)
3. NÚMERO DE CUENTA: Cuenta destino del pago
4. BANCO: Nombre del banco o entidad financiera
5. NÚMERO DE REFERENCIA: Código de transacción o referencia
6. MÉTODO DE PAGO: Tipo de transacción (transferencia, depósito, etc.)

CUENTAS VÁLIDAS PARA VERIFICAR:
%s- Convenio Bancolombia: %s

Responde SOLO con un JSON con esta estructura:
{
  "amount": numero_o_null,
  "date": "DD/MM/YYYY"_o_null,
  "accountNumber": "numero"_o_null,
  "bank": "nombre_banco"_o_null,
  "referenceNumber": "referencia"_o_null,
  "paymentMethod": "metodo"_o_null,
  "confidence": 0.0_a_1.0,
  "imageQuality": "excellent|good|fair|poor"
}

Si no puedes leer claramente algún dato, usa null.`, accounts.String(), BancolombiaConvenio)
}
