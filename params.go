package nidsim

// params.go applies run-time ExpParameter settings to the components of a
// built simulation.  A parameter names the kind of object it configures,
// a set of attributes an object must match to receive it, the parameter and
// its value.  Parameters are applied from broadest to narrowest: wildcards
// first, then attribute matches, then named objects, so the most specific
// assignment wins.

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// AttrbStruct is one attribute test.  AttrbName "*" matches everything.
type AttrbStruct struct {
	AttrbName  string `json:"attrbname" yaml:"attrbname"`
	AttrbValue string `json:"attrbvalue" yaml:"attrbvalue"`
}

// An ExpParameter describes one run-time configuration assignment
//   - ParamObj is the kind of thing configured: Source, Link, Queue, or CPU
//   - Attributes select which objects of that kind receive it; every one must match
//   - Param is the parameter, e.g. "pps", "rate", "capacity"
//   - Value is the string-encoded value
type ExpParameter struct {
	ParamObj   string        `json:"paramObj" yaml:"paramObj"`
	Attributes []AttrbStruct `json:"attributes" yaml:"attributes"`
	Param      string        `json:"param" yaml:"param"`
	Value      string        `json:"value" yaml:"value"`
}

// CreateExpParameter is a constructor
func CreateExpParameter(paramObj string, attrbs []AttrbStruct, param, value string) *ExpParameter {
	return &ExpParameter{ParamObj: paramObj, Attributes: slices.Clone(attrbs), Param: param, Value: value}
}

// WildcardAttrb selects every object of a kind
func WildcardAttrb() []AttrbStruct {
	return []AttrbStruct{{AttrbName: "*"}}
}

// Eq is true when both parameters make the same assignment
func (ep *ExpParameter) Eq(ep2 *ExpParameter) bool {
	return ep.ParamObj == ep2.ParamObj && ep.Param == ep2.Param && ep.Value == ep2.Value &&
		CompareAttrbs(ep.Attributes, ep2.Attributes) == 0
}

// CompareAttrbs orders attribute lists lexicographically
func CompareAttrbs(a, b []AttrbStruct) int {
	for idx := 0; idx < len(a) && idx < len(b); idx++ {
		if a[idx].AttrbName != b[idx].AttrbName {
			return strings.Compare(a[idx].AttrbName, b[idx].AttrbName)
		}
		if a[idx].AttrbValue != b[idx].AttrbValue {
			return strings.Compare(a[idx].AttrbValue, b[idx].AttrbValue)
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// ExpParamObjs, ExpAttributes, and ExpParams describe which kinds of object a
// parameter may configure, which attributes select among them, and which
// parameters each kind accepts
var ExpParamObjs = []string{"Source", "Link", "Queue", "CPU"}

var ExpAttributes = map[string][]string{
	"Source": {"name", "group", "role", "*"},
	"Link":   {"name", "*"},
	"Queue":  {"name", "*"},
	"CPU":    {"name", "*"},
}

var ExpParams = map[string][]string{
	"Source": {"pps", "rate", "size", "start", "stop", "count", "flowmodel", "segsize", "initwindow", "maxwindow", "rto"},
	"Link":   {"rate", "delay"},
	"Queue":  {"rate", "queue", "capacity"},
	"CPU":    {"capacity", "refillperiod", "blocking"},
}

// ValidateParameter returns an error if the fields of an ExpParameter don't
// make sense together
func ValidateParameter(paramObj string, attrbs []AttrbStruct, param string) error {
	if !slices.Contains(ExpParamObjs, paramObj) {
		return fmt.Errorf("parameter paramObj %s is not recognized", paramObj)
	}
	if len(attrbs) == 0 {
		return fmt.Errorf("parameter %s for %s has no attributes", param, paramObj)
	}
	for _, attrb := range attrbs {
		if (attrb.AttrbName == "*" || attrb.AttrbName == "name") && len(attrbs) != 1 {
			return fmt.Errorf("attribute %s of paramObj %s must stand alone", attrb.AttrbName, paramObj)
		}
		if !slices.Contains(ExpAttributes[paramObj], attrb.AttrbName) {
			return fmt.Errorf("attribute %s is not recognized for paramObj %s", attrb.AttrbName, paramObj)
		}
	}
	if !slices.Contains(ExpParams[paramObj], param) {
		return fmt.Errorf("parameter %s is not recognized for paramObj %s", param, paramObj)
	}
	return nil
}

// reorderExpParams puts wildcard assignments first, named assignments last,
// and the attribute-selected ones in between, removing duplicates
func reorderExpParams(pL []ExpParameter) []ExpParameter {
	wc := []ExpParameter{}
	nm := []ExpParameter{}
	sg := []ExpParameter{}

	for _, param := range pL {
		switch {
		case len(param.Attributes) > 0 && param.Attributes[0].AttrbName == "*":
			wc = append(wc, param)
		case len(param.Attributes) > 0 && param.Attributes[0].AttrbName == "name":
			nm = append(nm, param)
		default:
			sg = append(sg, param)
		}
	}

	byKey := func(lst []ExpParameter) func(i, j int) bool {
		return func(i, j int) bool {
			if lst[i].ParamObj != lst[j].ParamObj {
				return lst[i].ParamObj < lst[j].ParamObj
			}
			if cmp := CompareAttrbs(lst[i].Attributes, lst[j].Attributes); cmp != 0 {
				return cmp < 0
			}
			return lst[i].Param < lst[j].Param
		}
	}
	// stable, so that of two assignments to the same key the later one in the input wins
	sort.SliceStable(wc, byKey(wc))
	sort.SliceStable(sg, byKey(sg))
	sort.SliceStable(nm, byKey(nm))

	wc = append(wc, sg...)
	wc = append(wc, nm...)

	for idx := len(wc) - 1; idx > 0; idx -= 1 {
		if wc[idx].Eq(&wc[idx-1]) {
			wc = append(wc[:idx], wc[(idx+1):]...)
		}
	}
	return wc
}

// paramObj is implemented by every component an ExpParameter can configure
type paramObj interface {
	matchParam(attrbName, attrbValue string) bool
	setParam(param string, value valueStruct) error
}

// matchAttrbs is true if obj satisfies every attribute test
func matchAttrbs(obj paramObj, attrbs []AttrbStruct) bool {
	for _, attrb := range attrbs {
		if attrb.AttrbName == "*" {
			continue
		}
		if !obj.matchParam(attrb.AttrbName, attrb.AttrbValue) {
			return false
		}
	}
	return true
}

// setModelParameters applies the parameter list to the objects, grouped by
// ParamObj.  Every failure is collected and reported together.  A
// parameter that selects no object is an error too, since it most likely
// carries a misspelled name.
func setModelParameters(params []ExpParameter, objs map[string][]paramObj) error {
	errs := []error{}
	for _, param := range reorderExpParams(params) {
		if err := ValidateParameter(param.ParamObj, param.Attributes, param.Param); err != nil {
			errs = append(errs, err)
			continue
		}
		vs := stringToValueStruct(param.Value)
		matched := false
		for _, obj := range objs[param.ParamObj] {
			if !matchAttrbs(obj, param.Attributes) {
				continue
			}
			matched = true
			if err := obj.setParam(param.Param, vs); err != nil {
				errs = append(errs, err)
			}
		}
		if !matched {
			errs = append(errs, fmt.Errorf("parameter %s for %s selects no object", param.Param, param.ParamObj))
		}
	}
	return ReportErrs(errs)
}

// A valueStruct holds a configuration value in each form it parses to.
// Which one a component reads is known by context.
type valueStruct struct {
	intValue    int
	floatValue  float64
	stringValue string
	boolValue   bool
}

// stringToValueStruct determines whether v is an integer, a float, a
// boolean, or else a string
func stringToValueStruct(v string) valueStruct {
	vs := valueStruct{}

	if ivalue, ierr := strconv.Atoi(v); ierr == nil {
		vs.intValue = ivalue
		vs.floatValue = float64(ivalue)
		return vs
	}

	if fvalue, ferr := strconv.ParseFloat(v, 64); ferr == nil {
		vs.floatValue = fvalue
		vs.intValue = int(fvalue)
		return vs
	}

	switch v {
	case "true", "True":
		vs.boolValue = true
		return vs
	case "false", "False":
		return vs
	}

	vs.stringValue = v
	return vs
}

// valueToRate reads a rate parameter.  A bare number is bits per second,
// anything else goes through ParseRate.
func valueToRate(value valueStruct) (float64, error) {
	if value.stringValue == "" {
		if !(value.floatValue > 0.0) {
			return 0.0, fmt.Errorf("rate must be positive, got %g", value.floatValue)
		}
		return value.floatValue, nil
	}
	return ParseRate(value.stringValue)
}

func errUnknownParam(objName, param string) error {
	return fmt.Errorf("%s does not accept parameter %s", objName, param)
}

func errRangeParam(objName, param string) error {
	return fmt.Errorf("%s: value of parameter %s is out of range", objName, param)
}
