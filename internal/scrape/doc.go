// Package scrape defines the core types, collaborator interfaces, and error
// taxonomy shared by the pool, discovery, extraction, orchestration, and job
// subsystems of the places scraper.
package scrape
