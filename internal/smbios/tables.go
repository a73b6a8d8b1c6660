package smbios

// modelParams carries the per-model constants the manufacturing encoding
// is parameterized by. The country, manufacturing and board code sets are
// closed whitelists copied from an external identity-generation tool;
// they are opaque constants and must not be re-derived.
type modelParams struct {
	countryCodes []string
	serialCodes  []string
	boardCodes   []string
	minYear      int
	maxYear      int
}

var modelTable = map[string]modelParams{
	"MacPro7,1": {
		countryCodes: []string{"F5K", "C02"},
		serialCodes:  []string{"P7QM", "PLXV", "K7GD", "N5RH", "HX87"},
		boardCodes:   []string{"JCL4D", "KGYFP", "LUDV3", "MW2F7"},
		minYear:      2019,
		maxYear:      2023,
	},
	"iMacPro1,1": {
		countryCodes: []string{"C02"},
		serialCodes:  []string{"HX87", "JYVY", "J597"},
		boardCodes:   []string{"GQ17C", "HCWPM"},
		minYear:      2017,
		maxYear:      2021,
	},
}

// MLB line prefixes and suffixes are shared across models.
var (
	mlbLinePrefixes = []string{"200", "600", "403", "404", "405", "303", "108", "207", "609", "501", "306", "102", "701", "301"}
	mlbLineSuffixes = []string{"GU", "4N", "J9", "QX", "5H", "CD"}
)

// Models returns the SMBIOS models hardware-identity mode supports.
func Models() []string {
	models := make([]string, 0, len(modelTable))

	for model := range modelTable {
		models = append(models, model)
	}

	return models
}

// CountryCodes returns the manufacturing country whitelist for a model,
// or nil for unknown models.
func CountryCodes(model string) []string {
	params, ok := modelTable[model]
	if !ok {
		return nil
	}

	return params.countryCodes
}
