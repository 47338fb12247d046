package rule

import "testing"

func TestParse_AllKeys(t *testing.T) {
	r, err := Parse("type='signal',sender='org.example.a',interface='org.example.Iface',member='Changed',path='/a/b',destination='org.example.b',sessionless='t'")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if r.Type != MessageSignal {
		t.Errorf("Type = %v, want MessageSignal", r.Type)
	}
	if r.Sender != "org.example.a" || r.Interface != "org.example.Iface" || r.Member != "Changed" ||
		r.Path != "/a/b" || r.Destination != "org.example.b" {
		t.Errorf("unexpected parsed fields: %+v", r)
	}
	if r.Sessionless != SessionlessTrue {
		t.Errorf("Sessionless = %v, want SessionlessTrue", r.Sessionless)
	}
}

func TestParse_SessionlessAcceptsLowerAndUpperT(t *testing.T) {
	for _, v := range []string{"t", "T", "true", "TRUE"} {
		r, err := Parse("sessionless='" + v + "'")
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", v, err)
		}
		if r.Sessionless != SessionlessTrue {
			t.Errorf("Parse(%q).Sessionless = %v, want SessionlessTrue", v, r.Sessionless)
		}
	}
	r, err := Parse("sessionless='false'")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if r.Sessionless != SessionlessFalse {
		t.Errorf("Sessionless = %v, want SessionlessFalse", r.Sessionless)
	}
}

func TestParse_UnknownKeyIsRejected(t *testing.T) {
	if _, err := Parse("bogus='x'"); err == nil {
		t.Fatal("expected error for unknown rule key")
	}
}

func TestParse_ArgKeyIsNotImplemented(t *testing.T) {
	_, err := Parse("arg0='x'")
	if err == nil {
		t.Fatal("expected NotImplementedError for arg0 key")
	}
}

func TestParse_MalformedSpecIsRejected(t *testing.T) {
	tests := []string{
		"sender",               // no '='
		"sender='unterminated", // no closing quote
		"sender=noquotesatall", // no quote at all
	}
	for _, spec := range tests {
		if _, err := Parse(spec); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", spec)
		}
	}
}

// TestMatches_FieldsAreLogicallyAnded validates the field-wise AND
// semantics: a rule with several fields only matches a message that
// satisfies all of them.
func TestMatches_FieldsAreLogicallyAnded(t *testing.T) {
	r, err := Parse("interface='org.example.Iface',member='Changed'")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	match := Message{Interface: "org.example.Iface", Member: "Changed"}
	if !r.Matches(match) {
		t.Error("expected match when both fields satisfied")
	}
	wrongMember := Message{Interface: "org.example.Iface", Member: "Other"}
	if r.Matches(wrongMember) {
		t.Error("expected no match when member differs")
	}
}

// TestMatches_SessionlessRequirement validates the three-valued
// sessionless predicate.
func TestMatches_SessionlessRequirement(t *testing.T) {
	r, _ := Parse("sessionless='t'")
	if !r.Matches(Message{IsSessionless: true}) {
		t.Error("expected sessionless='t' to match a sessionless message")
	}
	if r.Matches(Message{IsSessionless: false}) {
		t.Error("expected sessionless='t' to reject a non-sessionless message")
	}
}

type testEndpoint string

func (e testEndpoint) UniqueName() string { return string(e) }

// TestTable_AddRemoveMatch exercises the rule table lifecycle end to end:
// add two endpoints with overlapping rules, confirm
// MatchingEndpoints fans out correctly, then remove one and confirm it
// drops out.
func TestTable_AddRemoveMatch(t *testing.T) {
	table := NewTable()
	a := testEndpoint(":1.1")
	b := testEndpoint(":1.2")

	ra, _ := Parse("interface='org.example.Iface'")
	rb, _ := Parse("interface='org.example.Iface',member='Specific'")
	table.AddRule(a, ra)
	table.AddRule(b, rb)

	msg := Message{Interface: "org.example.Iface", Member: "Specific"}
	matches := table.MatchingEndpoints(msg)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matching endpoints, got %d", len(matches))
	}

	other := Message{Interface: "org.example.Iface", Member: "Other"}
	matches = table.MatchingEndpoints(other)
	if len(matches) != 1 || matches[0].UniqueName() != ":1.1" {
		t.Fatalf("expected only endpoint a to match, got %v", matches)
	}

	table.RemoveAllRules(a)
	matches = table.MatchingEndpoints(msg)
	if len(matches) != 1 || matches[0].UniqueName() != ":1.2" {
		t.Fatalf("expected only endpoint b after removing a's rules, got %v", matches)
	}
}

func TestTable_RemoveRule_OnlyRemovesMatchingOne(t *testing.T) {
	table := NewTable()
	a := testEndpoint(":1.1")
	r1, _ := Parse("member='One'")
	r2, _ := Parse("member='Two'")
	table.AddRule(a, r1)
	table.AddRule(a, r2)

	table.RemoveRule(a, r1)

	if len(table.MatchingEndpoints(Message{Member: "One"})) != 0 {
		t.Error("expected r1 removed")
	}
	if len(table.MatchingEndpoints(Message{Member: "Two"})) != 1 {
		t.Error("expected r2 still registered")
	}
}
