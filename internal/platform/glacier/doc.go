// Package glacier implements the remote vault client on top of the AWS
// SDK's Glacier service.
package glacier
