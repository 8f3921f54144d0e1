package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mrtdreader/display"
	"mrtdreader/document"
	"mrtdreader/masterlist"
	"mrtdreader/output"
	"mrtdreader/session"
	"mrtdreader/transport/pcsc"
)

var (
	readerIndex        int
	docNumber          string
	dateOfBirth        string
	dateOfExpiry       string
	dataGroupFlag      string
	skipSecureElements bool
	skipCA             bool
	skipPACE           bool
	showRaw            bool
	masterListPath     string
	requireMasterList  bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read an eMRTD over a contactless reader",
	Long: `Read connects to a presented document, runs PACE (falling back to
BAC) from the MRZ, reads EF.COM/EF.SOD and the requested data groups,
then runs Chip/Active/Passive Authentication where applicable.

Examples:
  # List available readers
  mrtdreader read --list

  # Read the default data group set (whatever EF.COM advertises)
  mrtdreader read --doc-number L898902C3 --dob 690806 --expiry 940623

  # Read only DG1 and DG2
  mrtdreader read --doc-number L898902C3 --dob 690806 --expiry 940623 --dg DG1,DG2

  # Emit the result as JSON
  mrtdreader read --doc-number L898902C3 --dob 690806 --expiry 940623 --json`,
	RunE: runRead,
}

var listReadersFlag bool

func init() {
	readCmd.Flags().BoolVarP(&listReadersFlag, "list", "l", false,
		"List available smart card readers")
	readCmd.Flags().IntVarP(&readerIndex, "reader", "r", -1,
		"Reader index (use --list to see available readers)")
	readCmd.Flags().StringVar(&docNumber, "doc-number", "",
		"Document number, as printed in the MRZ (e.g. L898902C3)")
	readCmd.Flags().StringVar(&dateOfBirth, "dob", "",
		"Date of birth, YYMMDD")
	readCmd.Flags().StringVar(&dateOfExpiry, "expiry", "",
		"Date of expiry, YYMMDD")
	readCmd.Flags().StringVar(&dataGroupFlag, "dg", "",
		"Comma-separated data groups to read (e.g. DG1,DG2,DG11); default is everything EF.COM advertises")
	readCmd.Flags().BoolVar(&skipSecureElements, "skip-secure-elements", false,
		"Skip DG3/DG4 (fingerprint/iris), whether requested with --dg or advertised by EF.COM")
	readCmd.Flags().BoolVar(&skipCA, "skip-ca", false,
		"Skip Chip Authentication even if DG14 advertises it")
	readCmd.Flags().BoolVar(&skipPACE, "skip-pace", false,
		"Skip PACE and go straight to BAC")
	readCmd.Flags().BoolVar(&showRaw, "raw", false,
		"Show raw hex data for every data group read")
	readCmd.Flags().StringVar(&masterListPath, "master-list", "",
		"Path to a PEM/CMS CSCA master list, for Passive Authentication")
	readCmd.Flags().BoolVar(&requireMasterList, "require-master-list", false,
		"Treat a missing/unusable master list as a Passive Authentication failure")

	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	if listReadersFlag {
		readers, err := pcsc.ListReaders()
		if err != nil {
			return fmt.Errorf("failed to list readers: %w", err)
		}
		output.PrintReaderList(readers)
		return nil
	}

	mrzInformation, err := composeMRZInformation(docNumber, dateOfBirth, dateOfExpiry)
	if err != nil {
		return err
	}

	dataGroups, err := parseDataGroupFlag(dataGroupFlag)
	if err != nil {
		return err
	}

	if readerIndex < 0 {
		readers, err := pcsc.ListReaders()
		if err != nil {
			return fmt.Errorf("failed to list readers: %w", err)
		}
		switch len(readers) {
		case 0:
			return fmt.Errorf("no smart card readers found")
		case 1:
			readerIndex = 0
			if !outputJSON {
				output.PrintSuccess(fmt.Sprintf("Auto-selected reader: %s", readers[0]))
			}
		default:
			output.PrintReaderList(readers)
			return fmt.Errorf("multiple readers found, use -r <index> to select one")
		}
	}

	t, err := pcsc.Open(readerIndex)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if !outputJSON {
		output.PrintReaderInfo(t.Name(), t.ATRHex())
	}

	opts := session.Options{RequireMasterList: requireMasterList}
	if masterListPath != "" {
		blob, err := os.ReadFile(masterListPath)
		if err != nil {
			return fmt.Errorf("failed to read master list: %w", err)
		}
		ml, err := masterlist.Load(blob)
		if err != nil {
			return fmt.Errorf("failed to load master list: %w", err)
		}
		opts.MasterList = ml
	}

	notify := func(msg display.Message) {
		if outputJSON {
			return
		}
		switch m := msg.(type) {
		case display.Error:
			output.PrintWarning(m.DefaultText())
		default:
			fmt.Println(msg.DefaultText())
		}
	}

	s := session.New(t, opts)
	result, err := s.ReadDocument(context.Background(), mrzInformation, dataGroups, skipSecureElements, skipCA, skipPACE, 0, notify)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}

	if outputJSON {
		return printResultJSON(result)
	}

	output.PrintDocumentSummary(result)
	output.PrintDataGroups(result)
	output.PrintVerificationErrors(result)
	if showRaw {
		output.PrintRawData(result)
	}
	fmt.Println()
	output.PrintSuccess("Done!")
	return nil
}

func parseDataGroupFlag(flag string) ([]document.DataGroupID, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return nil, nil
	}
	names := map[string]document.DataGroupID{}
	for id := document.DG1; id <= document.DG16; id++ {
		names[id.String()] = id
	}
	var out []document.DataGroupID
	for _, part := range strings.Split(flag, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		id, ok := names[part]
		if !ok {
			return nil, fmt.Errorf("unknown data group %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

// jsonResult is the --json rendering of a document.Result: the
// DataGroup interface values are flattened to raw hex so encoding/json
// doesn't need to know about the lds package's concrete decoders.
type jsonResult struct {
	BACStatus                   string            `json:"bacStatus"`
	PACEStatus                  string            `json:"paceStatus"`
	ChipAuthenticationStatus    string            `json:"chipAuthenticationStatus"`
	ActiveAuthenticationStatus  string            `json:"activeAuthenticationStatus"`
	PassiveAuthenticationStatus string            `json:"passiveAuthenticationStatus"`
	DataGroups                  map[string]string `json:"dataGroups"`
	VerificationErrors          []string          `json:"verificationErrors,omitempty"`
}

func printResultJSON(result *document.Result) error {
	jr := jsonResult{
		BACStatus:                   result.BACStatus.String(),
		PACEStatus:                  result.PACEStatus.String(),
		ChipAuthenticationStatus:    result.ChipAuthenticationStatus.String(),
		ActiveAuthenticationStatus:  result.ActiveAuthenticationStatus.String(),
		PassiveAuthenticationStatus: result.PassiveAuthenticationStatus.String(),
		DataGroups:                  make(map[string]string, len(result.DataGroups)),
	}
	for id, dg := range result.DataGroups {
		jr.DataGroups[id.String()] = fmt.Sprintf("%X", dg.Raw())
	}
	for _, e := range result.VerificationErrors {
		jr.VerificationErrors = append(jr.VerificationErrors, e.Error())
	}
	out, err := json.MarshalIndent(jr, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON export failed: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// composeMRZInformation builds the MRZ key information string BAC/PACE
// derive their keys from: document number (padded to 9 with '<' and
// followed by its check digit), date of birth (YYMMDD + check digit),
// and date of expiry (YYMMDD + check digit) — ICAO 9303 Part 11
// Appendix D's "L898902C<369080619406236" layout.
func composeMRZInformation(docNumber, dob, expiry string) (string, error) {
	if docNumber == "" || dob == "" || expiry == "" {
		return "", fmt.Errorf("--doc-number, --dob and --expiry are all required")
	}
	if len(dob) != 6 {
		return "", fmt.Errorf("--dob must be 6 digits (YYMMDD), got %q", dob)
	}
	if len(expiry) != 6 {
		return "", fmt.Errorf("--expiry must be 6 digits (YYMMDD), got %q", expiry)
	}

	docField := strings.ToUpper(docNumber)
	for len(docField) < 9 {
		docField += "<"
	}

	var b strings.Builder
	b.WriteString(docField)
	b.WriteString(mrzCheckDigit(docField))
	b.WriteString(dob)
	b.WriteString(mrzCheckDigit(dob))
	b.WriteString(expiry)
	b.WriteString(mrzCheckDigit(expiry))
	return b.String(), nil
}

// mrzCheckDigit implements ICAO 9303 Part 3's 7-3-1 weighted check digit
// over the MRZ alphabet (0-9, A-Z map to 10-35, '<' maps to 0).
func mrzCheckDigit(s string) string {
	weights := [3]int{7, 3, 1}
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += mrzCharValue(s[i]) * weights[i%3]
	}
	return fmt.Sprintf("%d", sum%10)
}

func mrzCharValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	default:
		return 0
	}
}
