package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

var (
	ticketReceipt = template.Must(template.New("ticket").Parse(`Hello {{.Name}},

Thank you for purchasing {{.Copies}} ticket(s) for {{.Title}}.
Please find your ticket QR code(s) attached.

Ticket: {{.Label}}
Amount Paid: {{.Gross}}
Reference ID: {{.ReferenceID}}
{{if .Caveat}}
Note: {{.Caveat}}
{{end}}
Enjoy the event!
`))

	scan2payReceipt = template.Must(template.New("scan2pay").Parse(`Hello {{.Name}},

Payment Successful!

Business: {{.Title}}
Amount Paid: {{.Gross}}
Platform Charge: {{.PlatformCharge}}
Vendor Receives: {{.VendorAmount}}

Reference ID: {{.ReferenceID}}
{{if .Caveat}}
Note: {{.Caveat}}
{{end}}
Thank you for using Scan2Pay!
`))

	transferReceipt = template.Must(template.New("transfer").Parse(`Hello {{.Name}},

Your transfer has been sent.

Recipient: {{.Title}}
Narration: {{.Label}}
Amount Debited: {{.Gross}}
Transfer Charge: {{.PlatformCharge}}
Recipient Receives: {{.VendorAmount}}

Reference ID: {{.ReferenceID}}
{{if .Caveat}}
Note: {{.Caveat}}
{{end}}`))

	alertBody = template.Must(template.New("alert").Parse(`{{.Summary}}

Severity: {{.Severity}}
Reference ID: {{.ReferenceID}}
{{range $k, $v := .Fields}}{{$k}}: {{$v}}
{{end}}`))
)

func renderReceipt(r Receipt) (subject, body string, err error) {
	var tmpl *template.Template
	switch r.Kind {
	case ReceiptTicket:
		tmpl = ticketReceipt
		subject = "Your Ticket Receipt - " + r.Title
	case ReceiptScan2Pay:
		tmpl = scan2payReceipt
		subject = "Your Payment Receipt - " + r.Label
	case ReceiptTransfer:
		tmpl = transferReceipt
		subject = "Transfer Receipt - " + r.ReferenceID
	default:
		return "", "", fmt.Errorf("unknown receipt kind %q", r.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, r); err != nil {
		return "", "", fmt.Errorf("rendering %s receipt: %w", r.Kind, err)
	}
	return subject, buf.String(), nil
}

func renderAlert(a Alert) (string, error) {
	var buf bytes.Buffer
	if err := alertBody.Execute(&buf, a); err != nil {
		return "", fmt.Errorf("rendering alert: %w", err)
	}
	return buf.String(), nil
}
