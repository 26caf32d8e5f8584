package domain

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/featurestore/featurestore-go-sdk/api"
	"github.com/featurestore/featurestore-go-sdk/constants"
)

// OnDemandFeatureView derives features from the values of its source views
// and request fields. Inputs are addressed by bare feature name, by
// view__feature, and by request field name. A bare name shared by two
// sources is only reachable through its full name.
type OnDemandFeatureView struct {
	*api.OnDemandFeatureView

	sources       []FeatureView
	requestFields []*api.Feature
	programs      map[string]*vm.Program
	// declared inputs of every expression output
	variables map[string][]string
}

func NewOnDemandFeatureView(view *api.OnDemandFeatureView, p *Project) (*OnDemandFeatureView, error) {
	o := &OnDemandFeatureView{
		OnDemandFeatureView: view,
		requestFields:       view.RequestFields(),
		programs:            make(map[string]*vm.Program, len(view.Expressions)),
		variables:           make(map[string][]string, len(view.Expressions)),
	}
	for _, name := range view.Sources {
		source := p.GetFeatureView(name)
		if source == nil {
			return nil, &api.FeatureNotFoundError{Ref: name, Reason: fmt.Sprintf("source of on demand feature view %s is not a registered feature view", view.Name)}
		}
		o.sources = append(o.sources, source)
	}

	available := o.inputNames()
	for output, code := range view.Expressions {
		if _, ok := view.GetFeature(output); !ok {
			return nil, o.transformError(fmt.Errorf("expression for undeclared output %s", output))
		}
		variables, err := ExtractVariables(code)
		if err != nil {
			return nil, o.transformError(err)
		}
		for _, v := range variables {
			if !available[v] {
				return nil, o.transformError(fmt.Errorf("expression for %s reads %s which is not a declared input", output, v))
			}
		}
		program, err := expr.Compile(code, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, o.transformError(err)
		}
		o.programs[output] = program
		o.variables[output] = variables
	}
	return o, nil
}

func (o *OnDemandFeatureView) transformError(err error) error {
	return &api.OnDemandTransformError{View: o.Name, Cause: err}
}

// inputNames is the set of names expressions may read.
func (o *OnDemandFeatureView) inputNames() map[string]bool {
	names := make(map[string]bool)
	bare := make(map[string]int)
	for _, source := range o.sources {
		for _, f := range source.GetFields() {
			names[fullFeatureName(source.GetName(), f.Name)] = true
			bare[f.Name]++
		}
	}
	for name, n := range bare {
		if n == 1 {
			names[name] = true
		}
	}
	for _, f := range o.requestFields {
		names[f.Name] = true
	}
	return names
}

// Sources returns the feature views whose values feed the transformation.
func (o *OnDemandFeatureView) Sources() []FeatureView {
	return o.sources
}

func (o *OnDemandFeatureView) RequestFields() []*api.Feature {
	return o.requestFields
}

// BuildInputs assembles the input row of the transformation. sourceValues
// maps view__feature to the fetched value, request holds request fields.
func (o *OnDemandFeatureView) BuildInputs(sourceValues map[string]interface{}, request map[string]interface{}) (map[string]interface{}, error) {
	inputs := make(map[string]interface{}, 2*len(sourceValues)+len(o.requestFields))
	bare := make(map[string]int)
	for _, source := range o.sources {
		for _, f := range source.GetFields() {
			bare[f.Name]++
		}
	}
	for _, source := range o.sources {
		for _, f := range source.GetFields() {
			full := fullFeatureName(source.GetName(), f.Name)
			v := sourceValues[full]
			inputs[full] = v
			if bare[f.Name] == 1 {
				inputs[f.Name] = v
			}
		}
	}
	for _, f := range o.requestFields {
		v, ok := request[f.Name]
		if !ok {
			return nil, o.transformError(fmt.Errorf("request field %s is missing", f.Name))
		}
		cv, err := api.CoerceValue(f.Type, v)
		if err != nil {
			return nil, o.transformError(fmt.Errorf("request field %s: %w", f.Name, err))
		}
		inputs[f.Name] = cv
	}
	return inputs, nil
}

// Apply computes every output feature of one row. Expression outputs are
// null when any input they read is null.
func (o *OnDemandFeatureView) Apply(inputs map[string]interface{}) (map[string]interface{}, error) {
	outputs := make(map[string]interface{}, len(o.Features))
	if o.Transform != nil {
		result, err := o.Transform(inputs)
		if err != nil {
			return nil, o.transformError(err)
		}
		for _, f := range o.Features {
			if _, ok := o.programs[f.Name]; ok {
				continue
			}
			v, ok := result[f.Name]
			if !ok {
				return nil, o.transformError(fmt.Errorf("transformation did not produce %s", f.Name))
			}
			outputs[f.Name] = v
		}
	}

	for output, program := range o.programs {
		hasNull := false
		for _, v := range o.variables[output] {
			if inputs[v] == nil {
				hasNull = true
				break
			}
		}
		if hasNull {
			outputs[output] = nil
			continue
		}
		v, err := expr.Run(program, inputs)
		if err != nil {
			return nil, o.transformError(fmt.Errorf("%s: %w", output, err))
		}
		outputs[output] = v
	}

	for _, f := range o.Features {
		cv, err := api.CoerceValue(f.Type, outputs[f.Name])
		if err != nil {
			return nil, o.transformError(fmt.Errorf("%s: %w", f.Name, err))
		}
		outputs[f.Name] = cv
	}
	return outputs, nil
}

func fullFeatureName(view, feature string) string {
	return view + constants.Full_Feature_Name_Separator + feature
}

// ExtractVariables parses an expr expression and returns the variable names
// it reads, sorted. Names bound by let, closure pointers and called function
// names are not variables.
func ExtractVariables(code string) ([]string, error) {
	tree, err := parser.Parse(code)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression: %w", err)
	}

	v := &variableVisitor{
		identifiers: make(map[*ast.IdentifierNode]struct{}),
		callees:     make(map[*ast.IdentifierNode]struct{}),
		declared:    make(map[string]struct{}),
	}
	ast.Walk(&tree.Node, v)

	variables := make(map[string]struct{})
	for n := range v.identifiers {
		if _, ok := v.callees[n]; ok {
			continue
		}
		if _, ok := v.declared[n.Value]; ok {
			continue
		}
		variables[n.Value] = struct{}{}
	}

	var result []string
	for name := range variables {
		result = append(result, name)
	}

	sort.Strings(result)

	return result, nil
}

// variableVisitor records identifiers during a post order walk. A let name
// shadows an input of the same name everywhere in the expression.
type variableVisitor struct {
	identifiers map[*ast.IdentifierNode]struct{}
	callees     map[*ast.IdentifierNode]struct{}
	declared    map[string]struct{}
}

func (v *variableVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		v.identifiers[n] = struct{}{}
	case *ast.CallNode:
		if callee, ok := n.Callee.(*ast.IdentifierNode); ok {
			v.callees[callee] = struct{}{}
		}
	case *ast.VariableDeclaratorNode:
		v.declared[n.Name] = struct{}{}
	}
}
