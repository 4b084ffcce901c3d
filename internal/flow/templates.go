// Package flow implements the conversational intake engine.
//
// This file defines the service catalog: categories, their request submenus,
// and the per-template field schemas used to validate free-text submissions.
// Each schema maps a canonical field name to its requirement flag, validator,
// and accepted aliases, and is evaluated in a single pass per submission.
package flow

import (
	"fmt"
	"regexp"
	"strings"
)

// TransactionTypes is the closed set of accepted TIPE TRANSAKSI values.
var TransactionTypes = []string{"AO", "PDA", "MO", "DO", "SO", "RO"}

// wonumPattern matches work-order identifiers such as WO12345.
var wonumPattern = regexp.MustCompile(`^(?i)WO\d+$`)

// Canonical field names shared across templates.
const (
	FieldTransactionType = "TIPE TRANSAKSI"
	FieldOrderNumber     = "NOMOR ORDER"
	FieldWonum           = "WONUM"
	FieldServiceNumber   = "ND INET/VOICE"
	FieldFOTicket        = "TIKET FO"
	FieldPassword        = "PASSWORD"
	FieldInternetPackage = "PAKET INET"
	FieldOldSerial       = "SN LAMA"
	FieldNewSerial       = "SN BARU"
	FieldONTSerial       = "SN ONT"
	FieldONTType         = "TIPE ONT"
	FieldGPONPort        = "GPON SLOT/PORT/ONU"
	FieldVLAN            = "VLAN"
	FieldSVLAN           = "SVLAN"
	FieldCVLAN           = "CVLAN"
	FieldBimaTask        = "TASK BIMA"
	FieldOwnerGroup      = "OWNERGROUP"
	FieldAPSerial        = "SN AP"
	FieldAPMAC           = "MAC AP"
	FieldSSID            = "SSID"
	FieldNotes           = "KETERANGAN LAINNYA"
)

// FieldSpec describes one field of a request template.
type FieldSpec struct {
	Name     string // canonical upper-case field name
	Required bool
	Aliases  []string           // alternative keys accepted in free text
	Validate func(string) error // nil means any non-empty value passes
	Hint     string             // example value rendered in the template text
}

// Template is one request type within a category: the field schema plus the
// copy-paste text shown to the user.
type Template struct {
	Category    string
	RequestType string
	Fields      []FieldSpec
}

// Text renders the copy-paste template the user fills in.
func (t *Template) Text() string {
	var b strings.Builder
	for i, f := range t.Fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Hint)
	}
	return b.String()
}

// Category is one main-menu entry with its request submenu.
type Category struct {
	Name     string
	Requests []string
}

func validateTransactionType(value string) error {
	for _, t := range TransactionTypes {
		if value == t {
			return nil
		}
	}
	return fmt.Errorf("tipe transaksi %q tidak dikenal (pilihan: %s)", value, strings.Join(TransactionTypes, "/"))
}

func validateWonum(value string) error {
	if !wonumPattern.MatchString(value) {
		return fmt.Errorf("WONUM %q tidak sesuai format WOxxx", value)
	}
	return nil
}

// Shared mandatory fields. Every template starts with these two.
func mandatoryFields() []FieldSpec {
	return []FieldSpec{
		{Name: FieldTransactionType, Required: true, Validate: validateTransactionType, Hint: "AO/PDA/MO/DO/SO/RO"},
	}
}

func field(name, hint string, aliases ...string) FieldSpec {
	return FieldSpec{Name: name, Hint: hint, Aliases: aliases}
}

func wonumField() FieldSpec {
	return FieldSpec{Name: FieldWonum, Required: true, Validate: validateWonum, Hint: "WOxxx"}
}

// MainMenuRows lays out the category keyboard, four entries per row.
var MainMenuRows = [][]string{
	{"HSI INDIBIZ", "WMS Reguler", "WMSLite", "BITSTREAM"},
	{"VULA", "ASTINET", "METRO-E", "VPN IP"},
	{"IP TRANSIT", "SIP TRUNK", "VOICE", "IPTV"},
	{"METRANEXIA"},
}

// Categories is the service catalog in display order.
var Categories = buildCatalog()

var templates map[string]*Template

func templateKey(category, request string) string {
	return category + "/" + request
}

// CategoryByName looks up a catalog entry.
func CategoryByName(name string) (*Category, bool) {
	for i := range Categories {
		if Categories[i].Name == name {
			return &Categories[i], true
		}
	}
	return nil, false
}

// TemplateFor returns the template for a category and request type.
func TemplateFor(category, request string) (*Template, bool) {
	t, ok := templates[templateKey(category, request)]
	return t, ok
}

func buildCatalog() []Category {
	templates = make(map[string]*Template)

	gponTemplates := map[string][]FieldSpec{
		"RECONFIG": {
			field(FieldOrderNumber, "SCxxx"),
			wonumField(),
			field(FieldServiceNumber, "16xxx / 05xxx"),
			field(FieldInternetPackage, "HSI100M"),
			field(FieldONTSerial, "ZTEGxxx"),
			field(FieldONTType, "F609V2", "TYPE ONT"),
			field(FieldGPONPort, "GPON01-D6-KTB-3 SLOT 1 PORT 2 ONU 3", "GPON SLOT/PORT"),
			field(FieldNotes, "-"),
		},
		"REPLACE ONT": {
			field(FieldOrderNumber, "SCxxx"),
			wonumField(),
			field(FieldServiceNumber, "16xxx / 05xxx"),
			field(FieldInternetPackage, "HSI100M"),
			field(FieldOldSerial, "ZTEGxxx"),
			field(FieldNewSerial, "ZTEGxxx"),
			field(FieldONTType, "F609V2", "TYPE ONT"),
			field(FieldGPONPort, "GPON01-D6-KTB-3 SLOT 1 PORT 2 ONU 3", "GPON SLOT/PORT"),
			field(FieldNotes, "-"),
		},
		"TROUBLESHOOT": {
			field(FieldOrderNumber, "SCxxx"),
			wonumField(),
			field(FieldFOTicket, "INFxxx"),
			field(FieldServiceNumber, "16xxx / 05xxx"),
			field(FieldInternetPackage, "HSI100M"),
			field(FieldONTSerial, "ZTEGxxx"),
			field(FieldONTType, "F609V2", "TYPE ONT"),
			field(FieldGPONPort, "GPON01-D6-KTB-3 SLOT 1 PORT 2 ONU 3", "GPON SLOT/PORT"),
			field(FieldNotes, "-"),
		},
	}

	bitstreamTemplates := map[string][]FieldSpec{
		"RECONFIG": {
			field(FieldOrderNumber, "-"),
			wonumField(),
			field(FieldServiceNumber, "16xxx / 05xxx"),
			field(FieldPassword, "-"),
			field(FieldInternetPackage, "-"),
			field(FieldONTSerial, "ZTEGxxxx"),
			field(FieldONTType, "F680", "TYPE ONT"),
			field(FieldGPONPort, "GPON01-D6-KTB-3 SLOT 1 PORT 2 ONU 3", "GPON SLOT/PORT"),
			field(FieldSVLAN, "-"),
			field(FieldCVLAN, "-"),
			field(FieldNotes, "-"),
		},
		"REPLACE ONT": {
			field(FieldOrderNumber, "-"),
			wonumField(),
			field(FieldServiceNumber, "16xxx / 05xxx"),
			field(FieldInternetPackage, "-"),
			field(FieldOldSerial, "HWTCx"),
			field(FieldNewSerial, "ZTEGx"),
			field(FieldONTType, "F680", "TYPE ONT"),
			field(FieldGPONPort, "GPON01-D6-KTB-3 SLOT 1 PORT 2 ONU 3", "GPON SLOT/PORT"),
			field(FieldSVLAN, "-"),
			field(FieldCVLAN, "-"),
			field(FieldNotes, "-"),
		},
		"TROUBLESHOOT": {
			field(FieldOrderNumber, "-"),
			wonumField(),
			field(FieldFOTicket, "INFxx"),
			field(FieldServiceNumber, "16xxx / 05xxx"),
			field(FieldPassword, "-"),
			field(FieldInternetPackage, "-"),
			field(FieldONTSerial, "-"),
			field(FieldONTType, "-", "TYPE ONT"),
			field(FieldGPONPort, "GPON01-D6-KTB-3 SLOT 1 PORT 2 ONU 3", "GPON SLOT/PORT"),
			field(FieldSVLAN, "-"),
			field(FieldCVLAN, "-"),
			field(FieldNotes, "-"),
		},
	}

	wmsTemplates := map[string][]FieldSpec{
		"PUSH BIMA": {
			field(FieldOrderNumber, "-"),
			wonumField(),
			field(FieldBimaTask, "Pull Dropcore"),
			field(FieldOwnerGroup, "TIF HD xxx"),
			field(FieldNotes, "-"),
		},
		"TROUBLESHOOT": {
			field(FieldOrderNumber, "-"),
			wonumField(),
			field(FieldServiceNumber, "16xxx / 05xxx / xxxx", "ND INET/VOICE/SID"),
			field(FieldONTSerial, "-"),
			field(FieldAPSerial, "-"),
			field(FieldAPMAC, "-"),
			field(FieldSSID, "-"),
			field(FieldGPONPort, "GPON01-D6-KTB-3 SLOT 1 PORT 2 ONU 3", "GPON SLOT/PORT"),
			field(FieldNotes, "-"),
		},
	}

	metroTemplates := map[string][]FieldSpec{
		"PUSH BIMA": {
			field(FieldOrderNumber, "-"),
			wonumField(),
			field(FieldFOTicket, "INFxx"),
			field(FieldBimaTask, "Pull Dropcore"),
			field(FieldOwnerGroup, "-"),
			field(FieldNotes, "-"),
		},
		"TROUBLESHOOT": {
			field(FieldOrderNumber, "-"),
			wonumField(),
			field(FieldServiceNumber, "-", "ND INET/VOICE/SID"),
			field(FieldBimaTask, "Pull Dropcore"),
			field(FieldOwnerGroup, "-"),
			field(FieldVLAN, "-"),
			field(FieldNotes, "-"),
		},
	}

	catalog := []Category{
		{Name: "HSI INDIBIZ", Requests: []string{"RECONFIG", "REPLACE ONT", "TROUBLESHOOT", "INTEGRASI"}},
		{Name: "WMS Reguler", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "WMSLite", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "BITSTREAM", Requests: []string{"RECONFIG", "REPLACE ONT", "TROUBLESHOOT"}},
		{Name: "VULA", Requests: []string{"RECONFIG", "REPLACE ONT", "TROUBLESHOOT"}},
		{Name: "ASTINET", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "METRO-E", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "VPN IP", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "IP TRANSIT", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "SIP TRUNK", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "VOICE", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "IPTV", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
		{Name: "METRANEXIA", Requests: []string{"PUSH BIMA", "TROUBLESHOOT"}},
	}

	fieldsFor := func(category, request string) []FieldSpec {
		switch category {
		case "HSI INDIBIZ":
			if request == "INTEGRASI" {
				return gponTemplates["RECONFIG"]
			}
			return gponTemplates[request]
		case "BITSTREAM", "VULA":
			return bitstreamTemplates[request]
		case "WMS Reguler", "WMSLite":
			return wmsTemplates[request]
		default:
			return metroTemplates[request]
		}
	}

	for _, cat := range catalog {
		for _, req := range cat.Requests {
			specs := append(mandatoryFields(), fieldsFor(cat.Name, req)...)
			templates[templateKey(cat.Name, req)] = &Template{
				Category:    cat.Name,
				RequestType: req,
				Fields:      specs,
			}
		}
	}
	return catalog
}

// ParsedInput is the result of splitting free text into key-value pairs,
// preserving first-seen key order for the canonical draft.
type ParsedInput struct {
	Values map[string]string
	Order  []string
}

// ParseFreeText splits raw text line by line. Each line containing a
// separator becomes a (key, value) pair with the key upper-cased and
// trimmed and the value trimmed. Duplicate keys overwrite with the later
// value (last-write-wins).
func ParseFreeText(raw string) ParsedInput {
	parsed := ParsedInput{Values: make(map[string]string)}
	for _, line := range strings.Split(raw, "\n") {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if _, seen := parsed.Values[key]; !seen {
			parsed.Order = append(parsed.Order, key)
		}
		parsed.Values[key] = value
	}
	return parsed
}

// ValidationError reports a rejected submission with a user-facing reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// Evaluate checks parsed input against the template schema in one pass.
// It returns the schema-mapped fields (keyed by canonical name) and the
// canonical multi-line draft text used as the ticket description.
func (t *Template) Evaluate(parsed ParsedInput) (map[string]string, string, error) {
	fields := make(map[string]string)
	for _, spec := range t.Fields {
		value, ok := lookupField(parsed.Values, spec)
		if spec.Required {
			if !ok || value == "" || value == "-" {
				return nil, "", &ValidationError{Field: spec.Name, Reason: "wajib diisi"}
			}
		}
		if !ok {
			continue
		}
		if spec.Name == FieldTransactionType || spec.Name == FieldWonum {
			value = strings.ToUpper(value)
		}
		if spec.Validate != nil && value != "" {
			if err := spec.Validate(value); err != nil {
				return nil, "", &ValidationError{Field: spec.Name, Reason: err.Error()}
			}
		}
		fields[spec.Name] = value
	}

	var b strings.Builder
	for _, key := range parsed.Order {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(parsed.Values[key])
		b.WriteByte('\n')
	}
	return fields, b.String(), nil
}

func lookupField(values map[string]string, spec FieldSpec) (string, bool) {
	if v, ok := values[spec.Name]; ok {
		return v, true
	}
	for _, alias := range spec.Aliases {
		if v, ok := values[alias]; ok {
			return v, true
		}
	}
	return "", false
}
