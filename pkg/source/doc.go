// Package source loads the document manifest that feeds the intake phase.
//
// A manifest is a YAML (or JSON) file listing candidate documents:
//
//	documents:
//	  - id: smith2020
//	    title: Exercise and anxiety in adults
//	    abstract: ...
//	    doi: 10.1000/xyz123
//	    year: 2020
//	    findings:
//	      - Exercise reduces anxiety
//
// Document ids must be unique and non-empty; they become the item ids of
// every item-granular phase.
package source
