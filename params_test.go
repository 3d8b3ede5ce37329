package nidsim

import (
	"testing"
)

func testSources() (*Flow, *Flow, *BulkFlow) {
	flood := CreateFlow(0, "flood1", FloodRole, testKey(1, 9), 128, 5000, 1, 9, 0, "const", 1, []string{"flood"})
	attack := CreateFlow(1, "attacker", AttackRole, testKey(6, 80), 1024, 61, 2, 8, 100, "const", 2, []string{"attacker"})
	bulk := CreateBulkFlow("legit", testKey(7, 8080), 536, 40, 1, 10, 10, 244, 1.0, []string{"legit"})
	return flood, attack, bulk
}

func TestParametersApplyNarrowestLast(t *testing.T) {
	flood, attack, bulk := testSources()
	objs := map[string][]paramObj{"Source": {flood, attack, bulk}}

	params := []ExpParameter{
		*CreateExpParameter("Source", []AttrbStruct{{AttrbName: "name", AttrbValue: "attacker"}}, "size", "512"),
		*CreateExpParameter("Source", WildcardAttrb(), "size", "256"),
		*CreateExpParameter("Source", []AttrbStruct{{AttrbName: "role", AttrbValue: "flood"}}, "pps", "1000"),
	}
	if err := setModelParameters(params, objs); err != nil {
		t.Fatalf("setModelParameters: %v", err)
	}

	if flood.FrameSize != 256 || attack.FrameSize != 512 {
		t.Fatalf("sizes flood %d attack %d, want 256 and 512", flood.FrameSize, attack.FrameSize)
	}
	if flood.RatePps != 1000 || attack.RatePps != 61 {
		t.Fatalf("pps flood %g attack %g", flood.RatePps, attack.RatePps)
	}
	if bulk.SegSize != 256 {
		t.Fatalf("wildcard size did not reach the stream, segsize %d", bulk.SegSize)
	}
}

func TestRateParameterConvertsToPps(t *testing.T) {
	_, attack, _ := testSources()
	objs := map[string][]paramObj{"Source": {attack}}
	params := []ExpParameter{*CreateExpParameter("Source", []AttrbStruct{{AttrbName: "group", AttrbValue: "attacker"}}, "rate", "1Mbps")}
	if err := setModelParameters(params, objs); err != nil {
		t.Fatalf("setModelParameters: %v", err)
	}
	if want := 1e6 / (8 * 1024); attack.RatePps != want {
		t.Fatalf("pps = %g, want %g", attack.RatePps, want)
	}
}

func TestParameterErrorsAreCollected(t *testing.T) {
	flood, _, _ := testSources()
	insp := CreateInspector("cpu", 10, 1.0, NewCollector(nil))
	objs := map[string][]paramObj{"Source": {flood}, "CPU": {insp}}

	params := []ExpParameter{
		*CreateExpParameter("Source", WildcardAttrb(), "pps", "-3"),
		*CreateExpParameter("Source", []AttrbStruct{{AttrbName: "name", AttrbValue: "nobody"}}, "pps", "3"),
		*CreateExpParameter("CPU", WildcardAttrb(), "capacity", "20"),
		*CreateExpParameter("Router", WildcardAttrb(), "capacity", "20"),
	}
	err := setModelParameters(params, objs)
	if err == nil {
		t.Fatalf("bad parameters accepted")
	}
	if insp.Capacity() != 20 || insp.Available() != 20 {
		t.Fatalf("valid parameter not applied alongside the bad ones")
	}
}

func TestValidateParameter(t *testing.T) {
	if err := ValidateParameter("CPU", WildcardAttrb(), "blocking"); err != nil {
		t.Fatalf("valid parameter rejected: %v", err)
	}
	bad := []struct {
		obj    string
		attrbs []AttrbStruct
		param  string
	}{
		{"Switch", WildcardAttrb(), "rate"},
		{"Queue", nil, "rate"},
		{"Queue", []AttrbStruct{{AttrbName: "*"}, {AttrbName: "name", AttrbValue: "bn"}}, "rate"},
		{"Queue", []AttrbStruct{{AttrbName: "role", AttrbValue: "flood"}}, "rate"},
		{"Link", WildcardAttrb(), "capacity"},
	}
	for _, tc := range bad {
		if err := ValidateParameter(tc.obj, tc.attrbs, tc.param); err == nil {
			t.Fatalf("ValidateParameter(%s, %v, %s) accepted", tc.obj, tc.attrbs, tc.param)
		}
	}
}

func TestReorderExpParamsRemovesDuplicates(t *testing.T) {
	named := *CreateExpParameter("Queue", []AttrbStruct{{AttrbName: "name", AttrbValue: "bn"}}, "rate", "1Mbps")
	wild := *CreateExpParameter("Queue", WildcardAttrb(), "rate", "2Mbps")
	got := reorderExpParams([]ExpParameter{named, wild, named})
	if len(got) != 2 || got[0].Value != "2Mbps" || got[1].Value != "1Mbps" {
		t.Fatalf("reordered %+v", got)
	}
}

func TestStringToValueStruct(t *testing.T) {
	if vs := stringToValueStruct("42"); vs.intValue != 42 || vs.floatValue != 42 {
		t.Fatalf("int parse %+v", vs)
	}
	if vs := stringToValueStruct("0.5"); vs.floatValue != 0.5 || vs.stringValue != "" {
		t.Fatalf("float parse %+v", vs)
	}
	if vs := stringToValueStruct("true"); !vs.boolValue {
		t.Fatalf("bool parse %+v", vs)
	}
	if vs := stringToValueStruct("30Mbps"); vs.stringValue != "30Mbps" {
		t.Fatalf("string parse %+v", vs)
	}
}

func TestRateAndSizeCombine(t *testing.T) {
	attrbs := []AttrbStruct{{AttrbName: "name", AttrbValue: "attacker"}}
	rate := *CreateExpParameter("Source", attrbs, "rate", "1Mbps")
	size := *CreateExpParameter("Source", attrbs, "size", "512")

	for _, params := range [][]ExpParameter{{rate, size}, {size, rate}} {
		_, attack, _ := testSources()
		objs := map[string][]paramObj{"Source": {attack}}
		if err := setModelParameters(params, objs); err != nil {
			t.Fatalf("setModelParameters: %v", err)
		}
		if attack.FrameSize != 512 {
			t.Fatalf("size = %d, want 512", attack.FrameSize)
		}
		if offered := attack.RatePps * float64(8*attack.FrameSize); !closeTo(offered, 1e6) {
			t.Fatalf("offered %g bps with pps %g, want 1e6", offered, attack.RatePps)
		}
	}
}

func TestSizeKeepsConfiguredBitRate(t *testing.T) {
	flood, attack, _ := testSources()
	attack.RateBps = 500e3
	objs := map[string][]paramObj{"Source": {flood, attack}}
	params := []ExpParameter{*CreateExpParameter("Source", WildcardAttrb(), "size", "512")}
	if err := setModelParameters(params, objs); err != nil {
		t.Fatalf("setModelParameters: %v", err)
	}
	if want := 500e3 / (8 * 512); attack.RatePps != want {
		t.Fatalf("attacker pps = %g, want %g", attack.RatePps, want)
	}
	if flood.RatePps != 5000 {
		t.Fatalf("flood set by pps changed to %g", flood.RatePps)
	}

	params = []ExpParameter{*CreateExpParameter("Source", []AttrbStruct{{AttrbName: "name", AttrbValue: "attacker"}}, "pps", "10")}
	if err := setModelParameters(params, objs); err != nil {
		t.Fatalf("setModelParameters: %v", err)
	}
	if attack.RateBps != 0 || attack.RatePps != 10 {
		t.Fatalf("pps did not replace the bit rate: bps %g pps %g", attack.RateBps, attack.RatePps)
	}
}
