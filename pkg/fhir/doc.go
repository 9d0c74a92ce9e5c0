// Package fhir is a thin FHIR REST convenience layer over the signed
// HTTP client. Resources travel as raw JSON; this package does not model
// the FHIR resource schemas, it only shapes the REST interactions
// (read, create, update, delete, search) and their content types.
package fhir
