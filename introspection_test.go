package dbus

import "testing"

const sampleIntrospectionXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
  <interface name="com.example.Thing">
    <method name="Echo">
      <arg name="in" type="s" direction="in"/>
      <arg name="out" type="s" direction="out"/>
    </method>
    <signal name="Changed">
      <arg name="value" type="i"/>
    </signal>
    <property name="Count" type="i" access="readwrite"/>
  </interface>
  <node name="child"/>
</node>
`

func TestParseIntrospection(t *testing.T) {
	desc, err := ParseIntrospection([]byte(sampleIntrospectionXML))
	if err != nil {
		t.Fatalf("ParseIntrospection: %v", err)
	}

	ifc, ok := desc.Interfaces["com.example.Thing"]
	if !ok {
		t.Fatal("missing interface com.example.Thing")
	}
	if len(ifc.Methods) != 1 || ifc.Methods[0].Name != "Echo" {
		t.Fatalf("unexpected methods: %+v", ifc.Methods)
	}
	if len(ifc.Methods[0].In) != 1 || ifc.Methods[0].In[0].Type.String() != "s" {
		t.Errorf("unexpected Echo in-args: %+v", ifc.Methods[0].In)
	}
	if len(ifc.Methods[0].Out) != 1 || ifc.Methods[0].Out[0].Type.String() != "s" {
		t.Errorf("unexpected Echo out-args: %+v", ifc.Methods[0].Out)
	}

	if len(ifc.Signals) != 1 || ifc.Signals[0].Name != "Changed" {
		t.Fatalf("unexpected signals: %+v", ifc.Signals)
	}

	if len(ifc.Properties) != 1 || ifc.Properties[0].Name != "Count" || ifc.Properties[0].Access != AccessReadWrite {
		t.Fatalf("unexpected properties: %+v", ifc.Properties)
	}

	if len(desc.Children) != 1 || desc.Children[0] != "child" {
		t.Errorf("unexpected children: %+v", desc.Children)
	}
}

func TestParseIntrospectionRejectsBadSchema(t *testing.T) {
	tests := []string{
		`<node><interface><method name="M"/></interface></node>`,            // interface missing name
		`<node><interface name="a.b"><property name="P" type="i" access="bogus"/></interface></node>`, // bad access
		`<node><interface name="a.b"><method name="M"><arg type="!"/></method></interface></node>`,    // bad signature
		`<node><node/></node>`, // child missing name
	}
	for _, xmlStr := range tests {
		if _, err := ParseIntrospection([]byte(xmlStr)); err == nil {
			t.Errorf("ParseIntrospection(%q): got no error", xmlStr)
		}
	}
}

func TestGenerateIntrospectionRoundTrip(t *testing.T) {
	desc := &ObjectDescription{
		Interfaces: map[string]*InterfaceDescription{
			"com.example.Thing": {
				Name: "com.example.Thing",
				Methods: []*MethodDescription{
					{Name: "Echo",
						In:  []ArgumentDescription{{Name: "in", Type: mustParseSignature("s")}},
						Out: []ArgumentDescription{{Name: "out", Type: mustParseSignature("s")}},
					},
				},
				Signals: []*SignalDescription{
					{Name: "Changed", Args: []ArgumentDescription{{Name: "value", Type: mustParseSignature("i")}}},
				},
				Properties: []*PropertyDescription{
					{Name: "Count", Type: mustParseSignature("i"), Access: AccessReadWrite},
				},
			},
		},
	}

	xmlBytes := GenerateIntrospection(desc, []string{"child"})
	got, err := ParseIntrospection(xmlBytes)
	if err != nil {
		t.Fatalf("ParseIntrospection(generated): %v\n%s", err, xmlBytes)
	}

	ifc := got.Interfaces["com.example.Thing"]
	if ifc == nil {
		t.Fatal("missing interface after round trip")
	}
	if len(ifc.Methods) != 1 || ifc.Methods[0].Name != "Echo" {
		t.Errorf("methods did not round trip: %+v", ifc.Methods)
	}
	if len(got.Children) != 1 || got.Children[0] != "child" {
		t.Errorf("children did not round trip: %+v", got.Children)
	}
}
