package utils

import (
	"reflect"
	"strings"
)

// jsonTagName makes validator report the wire name ("member_account_no") instead of the Go field name.
func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
