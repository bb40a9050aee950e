// package models defines the data model for the playlist monitor service
package models
