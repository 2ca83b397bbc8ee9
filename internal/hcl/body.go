package hcl

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/cutlet/internal/config"
)

// decodeSection evaluates a block body into a config.Section. Native syntax
// bodies may nest blocks, which become child sections; JSON bodies are read
// as attributes only.
func decodeSection(parentPath, kind string, labels []string, body hcl.Body, evalCtx *hcl.EvalContext) (*config.Section, hcl.Diagnostics) {
	path := config.SectionPath(parentPath, kind, labels)
	rng := body.MissingItemRange()
	source := fmt.Sprintf("%s:%d", rng.Filename, rng.Start.Line)

	if syn, ok := body.(*hclsyntax.Body); ok {
		source = fmt.Sprintf("%s:%d", syn.SrcRange.Filename, syn.SrcRange.Start.Line)
		attrs, diags := evalAttributes(syntaxAttributes(syn), evalCtx)

		var children []*config.Section
		for _, block := range syn.Blocks {
			child, childDiags := decodeSection(path, block.Type, block.Labels, block.Body, evalCtx)
			diags = append(diags, childDiags...)
			if child != nil {
				children = append(children, child)
			}
		}
		if diags.HasErrors() {
			return nil, diags
		}
		return config.NewSection(parentPath, kind, labels, source, attrs, children), diags
	}

	hclAttrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	list := make([]*hcl.Attribute, 0, len(hclAttrs))
	for _, a := range hclAttrs {
		list = append(list, a)
	}
	attrs, evalDiags := evalAttributes(list, evalCtx)
	diags = append(diags, evalDiags...)
	if diags.HasErrors() {
		return nil, diags
	}
	return config.NewSection(parentPath, kind, labels, source, attrs, nil), diags
}

func syntaxAttributes(body *hclsyntax.Body) []*hcl.Attribute {
	list := make([]*hcl.Attribute, 0, len(body.Attributes))
	for _, a := range body.Attributes {
		list = append(list, a.AsHCLAttribute())
	}
	return list
}

// evalAttributes evaluates attributes in declaration order. Every value must
// be wholly known so sections can be compared structurally.
func evalAttributes(list []*hcl.Attribute, evalCtx *hcl.EvalContext) ([]config.Attribute, hcl.Diagnostics) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].Range.Start.Byte < list[j].Range.Start.Byte
	})

	var diags hcl.Diagnostics
	attrs := make([]config.Attribute, 0, len(list))
	for _, a := range list {
		val, valDiags := a.Expr.Value(evalCtx)
		diags = append(diags, valDiags...)
		if valDiags.HasErrors() {
			continue
		}
		if !val.IsWhollyKnown() {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown value",
				Detail:   fmt.Sprintf("The value of %q could not be determined while loading.", a.Name),
				Subject:  a.Expr.Range().Ptr(),
			})
			continue
		}
		attrs = append(attrs, config.Attribute{Name: a.Name, Value: val})
	}
	return attrs, diags
}
