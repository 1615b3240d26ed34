package branch

import (
	"encoding/xml"
	"fmt"
)

// BranchResult is a rendered dry-run report.
type BranchResult struct {
	ContentType string
	Text        string
}

type dryRunCollection struct {
	XMLName  xml.Name        `xml:"collection"`
	Packages []dryRunPackage `xml:"package"`
}

type dryRunPackage struct {
	Project string       `xml:"project,attr"`
	Package string       `xml:"package,attr"`
	Target  dryRunTarget `xml:"target"`
}

type dryRunTarget struct {
	Project string `xml:"project,attr"`
	Package string `xml:"package,attr"`
}

// DryRunReport renders the plan as an XML collection of source packages
// and their branch targets, without materializing anything.
func (p *Plan) DryRunReport() (*BranchResult, error) {
	col := dryRunCollection{}
	for _, e := range p.Entries {
		col.Packages = append(col.Packages, dryRunPackage{
			Project: e.LinkTargetProject,
			Package: e.Ref.Name(),
			Target: dryRunTarget{
				Project: p.TargetProject,
				Package: e.TargetPackage,
			},
		})
	}
	out, err := xml.MarshalIndent(col, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render dry-run report: %w", err)
	}
	return &BranchResult{ContentType: "text/xml", Text: xml.Header + string(out) + "\n"}, nil
}
