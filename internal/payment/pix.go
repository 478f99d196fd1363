package payment

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PixProvider synthesizes payable pix references. It stands in for a real
// payment gateway: it emits a copy/paste code and an external id the gateway
// would later reference in its webhook.
type PixProvider struct {
	Key          string
	MerchantName string
	MerchantCity string
}

func NewPixProvider(key, merchantName, merchantCity string) *PixProvider {
	return &PixProvider{Key: key, MerchantName: merchantName, MerchantCity: merchantCity}
}

// PixData is the provider-specific payload attached to a pix payment.
type PixData struct {
	Key        string
	QRCode     string
	CopyPaste  string
	ExternalID string
}

// Generate builds an EMV-style pix payload for the payment. The external id
// is derived from the payment id so webhook callbacks can be routed back.
func (p *PixProvider) Generate(paymentID uuid.UUID, amount decimal.Decimal) PixData {
	externalID := "PIX-" + strings.ToUpper(strings.ReplaceAll(paymentID.String(), "-", ""))

	merchant := strings.ToUpper(p.MerchantName)
	city := strings.ToUpper(p.MerchantCity)
	amt := amount.StringFixed(2)
	txid := externalID[len(externalID)-8:]
	adf := fmt.Sprintf("05%02d%s", len(txid), txid)

	copyPaste := fmt.Sprintf(
		"00020126580014br.gov.bcb.pix0136%s0208Pagamento52040000530398654%02d%s5802BR59%02d%s60%02d%s62%02d%s6304",
		p.Key,
		len(amt), amt,
		len(merchant), merchant,
		len(city), city,
		len(adf), adf,
	)
	copyPaste += fmt.Sprintf("%04X", crc16(copyPaste))

	return PixData{
		Key:        p.Key,
		QRCode:     copyPaste,
		CopyPaste:  copyPaste,
		ExternalID: externalID,
	}
}

// crc16 is CRC-16/CCITT-FALSE, the checksum the BR Code trailer (tag 63)
// requires. It covers the payload up to and including the "6304" prefix.
func crc16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
