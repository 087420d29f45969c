// Package models contains the GORM persistence models for the accounting
// sync subsystem. Models are kept separate from domain entities; each model
// carries ToDomain/FromDomain conversions.
package models
