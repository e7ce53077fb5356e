package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"

	"vidflow/internal/models"

	"github.com/skip2/go-qrcode"
)

var deliverableLabels = map[models.DeliverableType]string{
	models.DeliverableMainVideo:      "Main video",
	models.DeliverableHighlightVideo: "Highlight video",
	models.DeliverablePhotoZip:       "Photo set (ZIP)",
	models.DeliverableRawFootage:     "Raw footage",
	models.DeliverableReels:          "Reels",
}

func Label(t models.DeliverableType) string {
	if label, ok := deliverableLabels[t]; ok {
		return label
	}
	return string(t)
}

type DeliveryLink struct {
	Label string
	URL   string
}

// DeliveryData fills the delivery email. DownloadPageURL is encoded into
// the QR code so the athlete can open it from a phone.
type DeliveryData struct {
	OrderID         int64
	AthleteNumber   string
	Links           []DeliveryLink
	DownloadPageURL string
}

var deliveryTemplate = template.Must(template.New("delivery").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #111;">
  <h2>Your VidFlow files are ready</h2>
  <p>Order #{{.OrderID}}{{if .AthleteNumber}} &middot; athlete {{.AthleteNumber}}{{end}}</p>
  <ul>
  {{- range .Links}}
    <li><a href="{{.URL}}">{{.Label}}</a></li>
  {{- end}}
  </ul>
  <p>All files are also on your <a href="{{.DownloadPageURL}}">download page</a>.</p>
  <img src="{{.QRCode}}" alt="Download page QR code" width="200" height="200">
</body>
</html>
`))

// QRCodePNG encodes content as a PNG QR code.
func QRCodePNG(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}

// RenderDelivery builds the subject and HTML body of the delivery email.
func RenderDelivery(data DeliveryData) (subject, html string, err error) {
	png, err := QRCodePNG(data.DownloadPageURL, 256)
	if err != nil {
		return "", "", fmt.Errorf("generate QR code: %w", err)
	}

	var buf bytes.Buffer
	err = deliveryTemplate.Execute(&buf, struct {
		DeliveryData
		QRCode template.URL
	}{
		DeliveryData: data,
		QRCode:       template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
	})
	if err != nil {
		return "", "", fmt.Errorf("render delivery email: %w", err)
	}
	return fmt.Sprintf("[VidFlow] Order #%d is ready to download", data.OrderID), buf.String(), nil
}
