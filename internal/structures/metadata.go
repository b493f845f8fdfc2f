package structures

import (
	"encoding/xml"
	"strings"
)

// v4 comment links may point at ##MD blocks carrying an XML fragment
// instead of plain text. The fragments follow the standard comment
// schemas: <HDcomment> with a TX element and a common_properties list,
// <FHcomment> with tool identification, <CCcomment> with a formula.

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlHDComment struct {
	TX         string        `xml:"TX"`
	Properties []xmlProperty `xml:"common_properties>e"`
}

type xmlFHComment struct {
	TX          string `xml:"TX"`
	ToolID      string `xml:"tool_id"`
	ToolVendor  string `xml:"tool_vendor"`
	ToolVersion string `xml:"tool_version"`
	UserName    string `xml:"user_name"`
}

type xmlCCComment struct {
	TX      string `xml:"TX"`
	Formula string `xml:"formula"`
}

func isXMLComment(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "<")
}

// fillHeaderComment populates header metadata from a comment that is either
// plain text or an HDcomment XML fragment.
func fillHeaderComment(h *Header, text string) {
	if !isXMLComment(text) {
		h.Comment = text
		return
	}
	var c xmlHDComment
	if err := xml.Unmarshal([]byte(text), &c); err != nil {
		h.Comment = text
		return
	}
	h.Comment = strings.TrimSpace(c.TX)
	for _, p := range c.Properties {
		v := strings.TrimSpace(p.Value)
		switch p.Name {
		case "author":
			h.Author = v
		case "department":
			h.Organisation = v
		case "project":
			h.Project = v
		case "subject":
			h.Subject = v
		}
	}
}

// fillFileHistoryComment populates tool identification from an FHcomment
// fragment, falling back to the raw text.
func fillFileHistoryComment(fh *FileHistory, text string) {
	if !isXMLComment(text) {
		fh.Comment = text
		return
	}
	var c xmlFHComment
	if err := xml.Unmarshal([]byte(text), &c); err != nil {
		fh.Comment = text
		return
	}
	fh.Comment = strings.TrimSpace(c.TX)
	fh.ToolID = strings.TrimSpace(c.ToolID)
	fh.ToolVendor = strings.TrimSpace(c.ToolVendor)
	fh.ToolVersion = strings.TrimSpace(c.ToolVersion)
	fh.UserName = strings.TrimSpace(c.UserName)
}

// formulaFromComment extracts the formula from an algebraic conversion
// reference, which may be a CCcomment fragment or the bare expression.
func formulaFromComment(text string) string {
	if !isXMLComment(text) {
		return strings.TrimSpace(text)
	}
	var c xmlCCComment
	if err := xml.Unmarshal([]byte(text), &c); err != nil {
		return strings.TrimSpace(text)
	}
	if f := strings.TrimSpace(c.Formula); f != "" {
		return f
	}
	return strings.TrimSpace(c.TX)
}
