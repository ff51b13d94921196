// Package catalog loads the capability catalog from a YAML definition and
// upserts it into the store.
//
// A definition lists global actions and the Module > Submodule > Feature tree:
//
//	actions:
//	  - {id: 1, key: read}
//	  - {id: 2, key: create}
//	modules:
//	  - key: marketing
//	    name: Marketing
//	    submodules:
//	      - key: marketing.campaigns
//	        name: Campaigns
//	        features:
//	          - {key: marketing.campaigns.email, name: Email campaigns}
//
// Entries are matched by key, so reseeding keeps existing ids and the grants
// that reference them. Entries removed from the file are not deleted.
// Seeding finishes by calling the Notifier, normally iam.Service.CatalogChanged,
// which drops every cached permission snapshot.
//
// Watcher re-seeds whenever the file changes:
//
//	w, _ := catalog.NewWatcher(path, seeder, time.Second, log)
//	go w.Run(ctx)
package catalog
