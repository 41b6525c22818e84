package dbus

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// PropertyAccess describes which direction(s) a property supports.
type PropertyAccess int

const (
	AccessRead PropertyAccess = iota
	AccessWrite
	AccessReadWrite
)

func (a PropertyAccess) xmlString() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "readwrite"
	}
}

// ArgumentDescription describes one argument of a method or signal.
type ArgumentDescription struct {
	Name string
	Type Signature
}

func (a ArgumentDescription) String() string {
	if a.Name == "" {
		return a.Type.String()
	}
	return fmt.Sprintf("%s %s", a.Name, a.Type)
}

// MethodDescription describes a DBus method.
type MethodDescription struct {
	Name       string
	In         []ArgumentDescription
	Out        []ArgumentDescription
	Deprecated bool
	NoReply    bool
}

// SignalDescription describes a DBus signal.
type SignalDescription struct {
	Name       string
	Args       []ArgumentDescription
	Deprecated bool
}

// PropertyDescription describes a DBus property.
type PropertyDescription struct {
	Name         string
	Type         Signature
	Access       PropertyAccess
	EmitsChanged bool
}

// InterfaceDescription describes one interface's full API surface.
type InterfaceDescription struct {
	Name       string
	Methods    []*MethodDescription
	Signals    []*SignalDescription
	Properties []*PropertyDescription
}

// ObjectDescription describes one object's exported interfaces and
// immediate children, as reported by introspection.
type ObjectDescription struct {
	Interfaces map[string]*InterfaceDescription
	Children   []string
}

type xmlArg struct {
	Name      string `xml:"name,attr,omitempty"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr,omitempty"`
}

type xmlAnnotation struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlMethod struct {
	Name        string          `xml:"name,attr"`
	Args        []xmlArg        `xml:"arg"`
	Annotations []xmlAnnotation `xml:"annotation"`
}

type xmlSignal struct {
	Name        string          `xml:"name,attr"`
	Args        []xmlArg        `xml:"arg"`
	Annotations []xmlAnnotation `xml:"annotation"`
}

type xmlProperty struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Access string `xml:"access,attr"`
}

type xmlInterface struct {
	Name       string        `xml:"name,attr"`
	Methods    []xmlMethod   `xml:"method"`
	Signals    []xmlSignal   `xml:"signal"`
	Properties []xmlProperty `xml:"property"`
}

type xmlNode struct {
	XMLName    xml.Name       `xml:"node"`
	Name       string         `xml:"name,attr,omitempty"`
	Interfaces []xmlInterface `xml:"interface"`
	Children   []xmlNode      `xml:"node"`
}

// ParseIntrospection parses standard DBus introspection XML into an
// ObjectDescription.
func ParseIntrospection(data []byte) (*ObjectDescription, error) {
	var raw xmlNode
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, &InvalidIntrospectionError{err.Error()}
	}

	out := &ObjectDescription{Interfaces: map[string]*InterfaceDescription{}}
	for _, ifc := range raw.Interfaces {
		desc, err := parseInterfaceXML(ifc)
		if err != nil {
			return nil, err
		}
		out.Interfaces[desc.Name] = desc
	}
	for _, child := range raw.Children {
		if child.Name == "" {
			return nil, &InvalidIntrospectionError{"child node missing name attribute"}
		}
		out.Children = append(out.Children, child.Name)
	}
	return out, nil
}

func parseInterfaceXML(ifc xmlInterface) (*InterfaceDescription, error) {
	if ifc.Name == "" {
		return nil, &InvalidIntrospectionError{"interface missing name attribute"}
	}
	desc := &InterfaceDescription{Name: ifc.Name}

	for _, m := range ifc.Methods {
		md := &MethodDescription{Name: m.Name}
		for _, a := range m.Args {
			sig, err := ParseSignature(a.Type)
			if err != nil {
				return nil, &InvalidIntrospectionError{fmt.Sprintf("method %s arg %s: %v", m.Name, a.Name, err)}
			}
			arg := ArgumentDescription{Name: a.Name, Type: sig}
			if a.Direction == "in" {
				md.In = append(md.In, arg)
			} else {
				md.Out = append(md.Out, arg)
			}
		}
		for _, an := range m.Annotations {
			switch an.Name {
			case "org.freedesktop.DBus.Deprecated":
				md.Deprecated = an.Value == "true"
			case "org.freedesktop.DBus.Method.NoReply":
				md.NoReply = an.Value == "true"
			}
		}
		desc.Methods = append(desc.Methods, md)
	}

	for _, s := range ifc.Signals {
		sd := &SignalDescription{Name: s.Name}
		for _, a := range s.Args {
			sig, err := ParseSignature(a.Type)
			if err != nil {
				return nil, &InvalidIntrospectionError{fmt.Sprintf("signal %s arg %s: %v", s.Name, a.Name, err)}
			}
			sd.Args = append(sd.Args, ArgumentDescription{Name: a.Name, Type: sig})
		}
		for _, an := range s.Annotations {
			if an.Name == "org.freedesktop.DBus.Deprecated" {
				sd.Deprecated = an.Value == "true"
			}
		}
		desc.Signals = append(desc.Signals, sd)
	}

	for _, p := range ifc.Properties {
		sig, err := ParseSignature(p.Type)
		if err != nil {
			return nil, &InvalidIntrospectionError{fmt.Sprintf("property %s: %v", p.Name, err)}
		}
		pd := &PropertyDescription{Name: p.Name, Type: sig}
		switch p.Access {
		case "read":
			pd.Access = AccessRead
		case "write":
			pd.Access = AccessWrite
		case "readwrite":
			pd.Access = AccessReadWrite
		default:
			return nil, &InvalidIntrospectionError{fmt.Sprintf("property %s has invalid access %q", p.Name, p.Access)}
		}
		desc.Properties = append(desc.Properties, pd)
	}

	return desc, nil
}

// GenerateIntrospection renders desc (plus any childPaths relative to
// the owning object) as standard DBus introspection XML.
func GenerateIntrospection(desc *ObjectDescription, childPaths []string) []byte {
	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">` + "\n")
	sb.WriteString("<node>\n")

	names := make([]string, 0, len(desc.Interfaces))
	for name := range desc.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		writeInterfaceXML(&sb, desc.Interfaces[name])
	}
	for _, child := range childPaths {
		fmt.Fprintf(&sb, "  <node name=%q/>\n", child)
	}
	sb.WriteString("</node>\n")
	return []byte(sb.String())
}

func writeInterfaceXML(sb *strings.Builder, ifc *InterfaceDescription) {
	fmt.Fprintf(sb, "  <interface name=%q>\n", ifc.Name)
	for _, m := range ifc.Methods {
		fmt.Fprintf(sb, "    <method name=%q>\n", m.Name)
		for _, a := range m.In {
			fmt.Fprintf(sb, "      <arg name=%q type=%q direction=\"in\"/>\n", a.Name, a.Type)
		}
		for _, a := range m.Out {
			fmt.Fprintf(sb, "      <arg name=%q type=%q direction=\"out\"/>\n", a.Name, a.Type)
		}
		if m.Deprecated {
			sb.WriteString("      <annotation name=\"org.freedesktop.DBus.Deprecated\" value=\"true\"/>\n")
		}
		if m.NoReply {
			sb.WriteString("      <annotation name=\"org.freedesktop.DBus.Method.NoReply\" value=\"true\"/>\n")
		}
		sb.WriteString("    </method>\n")
	}
	for _, s := range ifc.Signals {
		fmt.Fprintf(sb, "    <signal name=%q>\n", s.Name)
		for _, a := range s.Args {
			fmt.Fprintf(sb, "      <arg name=%q type=%q/>\n", a.Name, a.Type)
		}
		if s.Deprecated {
			sb.WriteString("      <annotation name=\"org.freedesktop.DBus.Deprecated\" value=\"true\"/>\n")
		}
		sb.WriteString("    </signal>\n")
	}
	for _, p := range ifc.Properties {
		fmt.Fprintf(sb, "    <property name=%q type=%q access=%q/>\n", p.Name, p.Type, p.Access.xmlString())
	}
	sb.WriteString("  </interface>\n")
}

// describe synthesizes an ObjectDescription for an exported object,
// used to serve org.freedesktop.DBus.Introspectable.Introspect.
func (o *exportedObject) describe() *ObjectDescription {
	desc := &ObjectDescription{Interfaces: map[string]*InterfaceDescription{}}
	for name, iface := range o.interfaces {
		id := &InterfaceDescription{Name: name}
		for methodName := range iface.Methods {
			md := &MethodDescription{Name: methodName}
			if sigs, ok := iface.ArgSignatures[methodName]; ok {
				if in, err := ParseSignature(sigs[0]); err == nil {
					for _, t := range in.Types() {
						md.In = append(md.In, ArgumentDescription{Type: Signature{[]*Type{t}}})
					}
				}
				if out, err := ParseSignature(sigs[1]); err == nil {
					for _, t := range out.Types() {
						md.Out = append(md.Out, ArgumentDescription{Type: Signature{[]*Type{t}}})
					}
				}
			}
			id.Methods = append(id.Methods, md)
		}
		for _, sigName := range iface.Signals {
			id.Signals = append(id.Signals, &SignalDescription{Name: sigName})
		}
		for propName, prop := range iface.Properties {
			access := AccessRead
			switch {
			case prop.Get != nil && prop.Set != nil:
				access = AccessReadWrite
			case prop.Set != nil:
				access = AccessWrite
			}
			id.Properties = append(id.Properties, &PropertyDescription{
				Name:   propName,
				Type:   Signature{[]*Type{prop.Type}},
				Access: access,
			})
		}
		sort.Slice(id.Methods, func(i, j int) bool { return id.Methods[i].Name < id.Methods[j].Name })
		sort.Slice(id.Signals, func(i, j int) bool { return id.Signals[i].Name < id.Signals[j].Name })
		sort.Slice(id.Properties, func(i, j int) bool { return id.Properties[i].Name < id.Properties[j].Name })
		desc.Interfaces[name] = id
	}
	return desc
}
