// Package unit loads deployment units from disk. A unit directory holds code
// artifacts under main/ and lib/ plus a flux_config.yml metadata document;
// loading it builds an isolated context, reads the metadata from that
// context's own resources and discovers the entry points tagged as tasks or
// workflows.
package unit
