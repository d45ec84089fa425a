package hla

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Category is the syntactic kind of an HLA typing string
type Category string

const (
	CategorySingleAllele Category = "single_allele"
	CategoryAlleleString Category = "allele_string"
	CategoryGGroup       Category = "g_group"
	CategoryPGroup       Category = "p_group"
	CategoryNmdpCode     Category = "nmdp_code"
	CategoryXxCode       Category = "xx_code"
	CategorySerology     Category = "serology"
)

var (
	// 2 to 4 colon separated fields with an optional expression suffix
	singleAllelePattern = regexp.MustCompile(`^\d{2,3}(:\d{2,3}){1,3}[NLSCAQ]?$`)
	gGroupPattern       = regexp.MustCompile(`^\d{2,3}(:\d{2,3}){2}G$`)
	pGroupPattern       = regexp.MustCompile(`^\d{2,3}:\d{2,3}P$`)
	nmdpCodePattern     = regexp.MustCompile(`^\d{2,3}:[A-Z]{2,5}$`)
	xxCodePattern       = regexp.MustCompile(`^\d{2,3}:XX$`)
	serologyPattern     = regexp.MustCompile(`^\d{1,4}$`)

	// The subtype of an allele string may omit the shared first field
	alleleStringPartPattern = regexp.MustCompile(`^\d{2,3}(:\d{2,3}){0,3}[NLSCAQ]?$`)

	locusPrefixPattern = regexp.MustCompile(`^(?i:HLA-)?(?i:A|B|C|DPB1|DQB1|DRB1)\*`)
)

// Normalize trims whitespace and strips an optional "HLA-A*" style prefix
func Normalize(typing string) string {
	t := strings.TrimSpace(typing)
	return locusPrefixPattern.ReplaceAllString(t, "")
}

// Classify returns the category of a typing string
func Classify(typing string) (Category, error) {
	t := Normalize(typing)
	switch {
	case t == "":
		return "", fmt.Errorf("typing is empty")
	case strings.Contains(t, "/"):
		if _, err := SplitAlleleString(t); err != nil {
			return "", err
		}
		return CategoryAlleleString, nil
	case xxCodePattern.MatchString(t):
		return CategoryXxCode, nil
	case gGroupPattern.MatchString(t):
		return CategoryGGroup, nil
	case pGroupPattern.MatchString(t):
		return CategoryPGroup, nil
	case singleAllelePattern.MatchString(t):
		return CategorySingleAllele, nil
	case nmdpCodePattern.MatchString(t):
		return CategoryNmdpCode, nil
	case serologyPattern.MatchString(t):
		return CategorySerology, nil
	}
	return "", fmt.Errorf("unrecognised typing %q", typing)
}

// SplitAlleleString expands "01:01/01:02" or the shorthand "01:01/02" into
// full alleles
func SplitAlleleString(typing string) ([]string, error) {
	parts := strings.Split(Normalize(typing), "/")
	if len(parts) < 2 {
		return nil, fmt.Errorf("allele string %q has a single allele", typing)
	}

	first := FirstField(parts[0])
	if !singleAllelePattern.MatchString(parts[0]) {
		return nil, fmt.Errorf("allele string %q must start with a full allele", typing)
	}

	alleles := make([]string, 0, len(parts))
	for _, part := range parts {
		if !alleleStringPartPattern.MatchString(part) {
			return nil, fmt.Errorf("invalid allele %q in allele string %q", part, typing)
		}
		if !strings.Contains(part, ":") {
			part = first + ":" + part
		}
		alleles = append(alleles, part)
	}
	return alleles, nil
}

// FirstField returns the allele family, e.g. "02" for "02:01:01"
func FirstField(allele string) string {
	if i := strings.IndexByte(allele, ':'); i >= 0 {
		return allele[:i]
	}
	return allele
}

// TwoField truncates an allele, G group or P group name to its first two
// fields, dropping expression and group suffixes
func TwoField(allele string) string {
	a := strings.TrimRight(allele, "NLSCAQGP")
	fields := strings.Split(a, ":")
	if len(fields) > 2 {
		fields = fields[:2]
	}
	return strings.Join(fields, ":")
}

// DistinctSorted removes duplicates and sorts
func DistinctSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
