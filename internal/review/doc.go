// Package review defines the core session and review types shared by the
// ingestion coordinator, the normalization pipeline, the storage backends and
// the HTTP surface, together with the interfaces that connect them.
package review
