// Package sitekeeper holds the two automation jobs behind the yasero.dev
// page: refreshing the published weight snapshot from the Eufy Life API,
// and maintaining the deduplicated list of social post URLs that is stored
// in a CI variable and rendered to a static JSON file at deploy time.
//
// The two jobs aren't really related, but they are small, they share the
// same HTTP plumbing, and they ship together with the site, so for now they
// live in one package.
package sitekeeper
